package jwtverifier

import (
	"encoding/json"

	"github.com/m-lab/jwtlogin/auth/autherr"
)

// Claims is the payload of a verified token.
type Claims map[string]interface{}

// Truthy reports whether the named claim is present with a truthy JSON value.
// false, null, 0, "", [] and {} are falsy, as is an absent claim.
func (c Claims) Truthy(name string) bool {
	return truthy(c[name])
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// checkClaims enforces the boolean claim policies, positive claims first,
// failing on the first violation.
func (v *Verifier) checkClaims(c Claims) error {
	for _, name := range v.cfg.BooleanClaims {
		if !c.Truthy(name) {
			return autherr.Claimf(autherr.ClaimValidationFailed, name, "%s claim validation failed", name)
		}
	}
	for _, name := range v.cfg.BooleanNegativeClaims {
		if c.Truthy(name) {
			return autherr.Claimf(autherr.ClaimValidationFailed, name, "%s claim validation failed", name)
		}
	}
	return nil
}
