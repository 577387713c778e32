// Package jwtverifier verifies login JWTs and derives a local username from
// their claims.
//
// The package supports two modes:
//   - Secret: verify the token with a shared secret, accepting every
//     signature algorithm the JWT library knows
//   - Certificate: verify the token with the public key of a PEM
//     certificate read from disk, optionally checking the audience
//
// When both are configured, the secret wins.
package jwtverifier

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/auth/autherr"
	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/static"
)

// Verification modes, as reported by Mode.
const (
	ModeSecret      = "secret"
	ModeCertificate = "certificate"
	ModeNone        = "none"
)

// Config holds the verification settings. It is copied by New and never
// modified afterward.
type Config struct {
	// Secret is the shared HMAC secret. It overrides CertificatePath.
	Secret []byte
	// CertificatePath names an X.509 PEM certificate (or PEM public key).
	CertificatePath string
	// ExpectedAudience must be contained in the token audience in
	// certificate mode. Empty disables the audience check.
	ExpectedAudience string
	// UsernameClaimField names the claim holding the username.
	UsernameClaimField string
	// BooleanClaims must all be truthy, checked in order.
	BooleanClaims []string
	// BooleanNegativeClaims must all be falsy or absent, checked in order.
	BooleanNegativeClaims []string
	// Leeway is the clock skew tolerated for exp, nbf and iat.
	Leeway time.Duration
	// CacheCertificate keeps parsed certificates in memory until
	// InvalidateCertificate is called.
	CacheCertificate bool
}

// Verifier validates tokens against a Config. It is safe for concurrent use.
type Verifier struct {
	cfg      Config
	certs    *certificateCache
	readFile func(name string) ([]byte, error)
}

// New creates a Verifier. An empty UsernameClaimField defaults to "upn".
func New(cfg Config) *Verifier {
	cfg.Secret = append([]byte(nil), cfg.Secret...)
	cfg.BooleanClaims = append([]string(nil), cfg.BooleanClaims...)
	cfg.BooleanNegativeClaims = append([]string(nil), cfg.BooleanNegativeClaims...)
	if cfg.UsernameClaimField == "" {
		cfg.UsernameClaimField = static.UsernameClaimField
	}
	v := &Verifier{
		cfg:      cfg,
		readFile: os.ReadFile,
	}
	if cfg.CacheCertificate {
		v.certs = newCertificateCache()
	}
	return v
}

// Mode returns the verification mode name.
func (v *Verifier) Mode() string {
	switch {
	case len(v.cfg.Secret) > 0:
		return ModeSecret
	case v.cfg.CertificatePath != "":
		return ModeCertificate
	default:
		return ModeNone
	}
}

// Verify decodes and validates token and enforces the boolean claim
// policies. The returned Claims are a fresh map on every call.
func (v *Verifier) Verify(token string) (Claims, error) {
	start := time.Now()
	mode := v.Mode()
	claims, err := v.verify(mode, token)

	result := "OK"
	if err != nil {
		result = autherr.KindOf(err).String()
	}
	metrics.TokenVerificationDuration.WithLabelValues(mode, result).Observe(time.Since(start).Seconds())
	return claims, err
}

func (v *Verifier) verify(mode, token string) (Claims, error) {
	var claims Claims
	var err error
	switch mode {
	case ModeSecret:
		claims, err = v.parse(token, v.cfg.Secret, secretMethods, "")
	case ModeCertificate:
		claims, err = v.verifyWithCertificate(token)
	default:
		return nil, autherr.New(autherr.NoVerificationMethod,
			errors.New("neither a secret nor a signing certificate is configured"))
	}
	if err != nil {
		return nil, err
	}
	if err := v.checkClaims(claims); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"mode": mode,
	}).Debug("JWT verified successfully")
	return claims, nil
}

// parse verifies the token signature with key, restricted to methods, and
// validates the registered time claims. A non-empty audience is required to
// be present in the token.
func (v *Verifier) parse(token string, key interface{}, methods []string, audience string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if audience != "" && (errors.Is(err, jwt.ErrTokenInvalidAudience) ||
			errors.Is(err, jwt.ErrTokenRequiredClaimMissing)) {
			return nil, autherr.New(autherr.AudienceMismatch, err)
		}
		return nil, autherr.New(autherr.InvalidToken, err)
	}
	return Claims(claims), nil
}
