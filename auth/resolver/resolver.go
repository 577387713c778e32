// Package resolver turns a login request into a local username by composing
// the credential locator and the token verifier.
package resolver

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/auth/autherr"
	"github.com/m-lab/jwtlogin/auth/credential"
	"github.com/m-lab/jwtlogin/auth/jwtverifier"
)

// Exchange is the request port the resolvers depend on: the token locations
// plus the ability to drop the caller's current login session.
type Exchange interface {
	credential.Request
	ClearSession() error
}

// Identity is the outcome of a successful resolution.
type Identity struct {
	Username string
	Origin   credential.Origin
	Claims   jwtverifier.Claims
}

// UsernameResolver resolves the user behind a login request.
type UsernameResolver interface {
	Resolve(ctx context.Context, ex Exchange) (*Identity, error)
}

// Locator finds the raw token in a request.
type Locator interface {
	Locate(req credential.Request) (*credential.Credential, error)
}

// TokenVerifier validates a raw token and derives the username.
type TokenVerifier interface {
	Verify(token string) (jwtverifier.Claims, error)
	Username(claims jwtverifier.Claims) (string, error)
}

// Resolver stops once the username is known.
type Resolver struct {
	locator          Locator
	verifier         TokenVerifier
	logoutOnNewToken bool
}

// New creates a Resolver. When logoutOnNewToken is set, any existing login
// session is cleared as soon as a token is found, before it is verified.
func New(locator Locator, verifier TokenVerifier, logoutOnNewToken bool) *Resolver {
	return &Resolver{
		locator:          locator,
		verifier:         verifier,
		logoutOnNewToken: logoutOnNewToken,
	}
}

// Resolve runs locate, optional session clear, verify and username
// extraction, stopping at the first failure.
func (r *Resolver) Resolve(ctx context.Context, ex Exchange) (*Identity, error) {
	cred, err := r.locator.Locate(ex)
	if err != nil {
		return nil, err
	}
	if r.logoutOnNewToken {
		if err := ex.ClearSession(); err != nil {
			return nil, autherr.WithOrigin(fmt.Errorf("failed to clear login session: %w", err), string(cred.Origin))
		}
	}
	claims, err := r.verifier.Verify(cred.Token)
	if err != nil {
		return nil, autherr.WithOrigin(err, string(cred.Origin))
	}
	username, err := r.verifier.Username(claims)
	if err != nil {
		return nil, autherr.WithOrigin(err, string(cred.Origin))
	}

	log.WithFields(log.Fields{
		"origin":   cred.Origin,
		"username": username,
	}).Debug("Resolved username from token")
	return &Identity{Username: username, Origin: cred.Origin, Claims: claims}, nil
}
