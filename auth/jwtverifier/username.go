package jwtverifier

import (
	"strings"

	"github.com/m-lab/jwtlogin/auth/autherr"
)

// Username extracts the normalized username from the configured claim.
func (v *Verifier) Username(c Claims) (string, error) {
	return ExtractUsername(c, v.cfg.UsernameClaimField)
}

// ExtractUsername reads field from c and normalizes it with
// NormalizeUsername. A missing, non-string or empty claim is an error.
func ExtractUsername(c Claims, field string) (string, error) {
	raw, ok := c[field]
	if !ok {
		return "", autherr.Claimf(autherr.MissingUsernameClaim, field, "claim %q not found", field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", autherr.Claimf(autherr.MissingUsernameClaim, field, "claim %q is a %T, not a string", field, raw)
	}
	username := NormalizeUsername(s)
	if username == "" {
		return "", autherr.Claimf(autherr.MissingUsernameClaim, field, "claim %q yields an empty username", field)
	}
	return username, nil
}

// NormalizeUsername removes every hyphen and, for email or principal names,
// keeps only the part before the first "@".
func NormalizeUsername(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	local, _, _ := strings.Cut(s, "@")
	return local
}
