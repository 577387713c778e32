// Package autherr defines the failure kinds of the login pipeline and the
// HTTP status each one is reported with.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a login failure.
type Kind int

// Failure kinds. Every kind is terminal for the request.
const (
	Unknown Kind = iota
	AmbiguousCredential
	ForbiddenScheme
	NoCredential
	NoVerificationMethod
	AudienceMismatch
	InvalidToken
	ClaimValidationFailed
	MissingUsernameClaim
	UnknownSystemUser
	ProvisionFailed
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	AmbiguousCredential:   "ambiguous_credential",
	ForbiddenScheme:       "forbidden_scheme",
	NoCredential:          "no_credential",
	NoVerificationMethod:  "no_verification_method",
	AudienceMismatch:      "audience_mismatch",
	InvalidToken:          "invalid_token",
	ClaimValidationFailed: "claim_validation_failed",
	MissingUsernameClaim:  "missing_username_claim",
	UnknownSystemUser:     "unknown_system_user",
	ProvisionFailed:       "provision_failed",
}

// String returns the snake_case name of the kind, suitable for metric labels.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// Status returns the HTTP status code reported for the kind.
func (k Kind) Status() int {
	switch k {
	case AmbiguousCredential:
		return http.StatusBadRequest
	case ForbiddenScheme, UnknownSystemUser:
		return http.StatusForbidden
	case NoCredential, NoVerificationMethod, AudienceMismatch, InvalidToken,
		ClaimValidationFailed, MissingUsernameClaim:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a login failure of a given Kind. Claim names the offending claim
// for ClaimValidationFailed and MissingUsernameClaim.
type Error struct {
	Kind  Kind
	Claim string
	Err   error
}

// New returns an *Error of the given kind wrapping err, which may be nil.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Claimf returns an *Error for the named claim.
func Claimf(kind Kind, claim string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Claim: claim, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Claim != "" {
		msg += " (" + e.Claim + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. The claim is
// compared only when target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Claim == "" || t.Claim == e.Claim
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// WithOrigin records where the credential behind a failed login was found.
// A nil err stays nil.
func WithOrigin(err error, origin string) error {
	if err == nil {
		return nil
	}
	return &originError{origin: origin, err: err}
}

// OriginOf returns the outermost origin recorded in err's chain, or "" when
// the failure happened before a credential was found.
func OriginOf(err error) string {
	var e *originError
	if errors.As(err, &e) {
		return e.origin
	}
	return ""
}

type originError struct {
	origin string
	err    error
}

func (e *originError) Error() string { return e.err.Error() }
func (e *originError) Unwrap() error { return e.err }

// Status returns the HTTP status for err. Errors outside the taxonomy are
// reported as internal errors.
func Status(err error) int {
	return KindOf(err).Status()
}
