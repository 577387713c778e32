package jwtverifier

import (
	"crypto"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/auth/autherr"
	"github.com/m-lab/jwtlogin/metrics"
)

// certificateMethods are the asymmetric methods accepted in certificate mode.
// HMAC methods are excluded so a public key is never used as a shared secret.
var certificateMethods = []string{
	jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodPS256.Alg(), jwt.SigningMethodPS384.Alg(), jwt.SigningMethodPS512.Alg(),
	jwt.SigningMethodES256.Alg(), jwt.SigningMethodES384.Alg(), jwt.SigningMethodES512.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

func (v *Verifier) verifyWithCertificate(token string) (Claims, error) {
	key, err := v.publicKey(v.cfg.CertificatePath)
	if err != nil {
		log.WithFields(log.Fields{
			"mode":  ModeCertificate,
			"path":  v.cfg.CertificatePath,
			"error": err.Error(),
		}).Error("Failed to load signing certificate")
		return nil, autherr.New(autherr.InvalidToken, err)
	}
	return v.parse(token, key, certificateMethods, v.cfg.ExpectedAudience)
}

// publicKey reads and parses the certificate at path, consulting the cache
// when enabled.
func (v *Verifier) publicKey(path string) (crypto.PublicKey, error) {
	var gen uint64
	if v.certs != nil {
		gen = v.certs.generation()
		if key, ok := v.certs.get(path); ok {
			metrics.CertificateCacheTotal.WithLabelValues("hit").Inc()
			return key, nil
		}
		metrics.CertificateCacheTotal.WithLabelValues("miss").Inc()
	}

	b, err := v.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing certificate: %w", err)
	}
	key, err := ParsePublicKeyPEM(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing certificate %s: %w", path, err)
	}

	if v.certs != nil {
		v.certs.put(path, key, gen)
	}
	return key, nil
}

// InvalidateCertificate drops the cached key for path, or every cached key
// when path is empty. It is a no-op when caching is disabled.
func (v *Verifier) InvalidateCertificate(path string) {
	if v.certs == nil {
		return
	}
	v.certs.invalidate(path)
}

// ParsePublicKeyPEM extracts an RSA, ECDSA or Ed25519 public key from PEM
// data holding either an X.509 certificate or a PKIX public key.
func ParsePublicKeyPEM(b []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(b); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(b); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(b); err == nil {
		return key, nil
	}
	return nil, errors.New("no RSA, ECDSA or Ed25519 public key found in PEM data")
}

// certificateCache holds parsed keys by path. Every invalidation advances gen,
// and a key read before an invalidation is never stored after it.
type certificateCache struct {
	mu   sync.RWMutex
	gen  uint64
	keys map[string]crypto.PublicKey
}

func newCertificateCache() *certificateCache {
	return &certificateCache{keys: map[string]crypto.PublicKey{}}
}

func (c *certificateCache) get(path string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[path]
	return key, ok
}

func (c *certificateCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// put stores key unless the cache was invalidated since generation gen.
func (c *certificateCache) put(path string, key crypto.PublicKey, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.keys[path] = key
}

func (c *certificateCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if path == "" {
		c.keys = map[string]crypto.PublicKey{}
		return
	}
	delete(c.keys, path)
}
