// Package credential locates the raw JWT presented by a login request.
package credential

import (
	"errors"
	"strings"

	"github.com/m-lab/jwtlogin/auth/autherr"
	"github.com/m-lab/jwtlogin/static"
)

// Origin identifies where in the request a token was found.
type Origin string

// Token origins.
const (
	Header     Origin = "header"
	Cookie     Origin = "cookie"
	QueryParam Origin = "query_param"
)

// Request is the read-only view of an incoming request needed to locate a
// token. Each accessor returns the empty string when the value is absent.
type Request interface {
	Header(name string) string
	Cookie(name string) string
	QueryParam(name string) string
}

// Credential is the single raw token located in a request.
type Credential struct {
	Token  string
	Origin Origin
}

// Locator finds the token in a request.
type Locator struct {
	HeaderName string
	ParamName  string
}

// NewLocator creates a Locator, substituting the default header and query
// parameter names for empty arguments.
func NewLocator(headerName, paramName string) *Locator {
	if headerName == "" {
		headerName = static.HeaderName
	}
	if paramName == "" {
		paramName = static.ParamName
	}
	return &Locator{HeaderName: headerName, ParamName: paramName}
}

// Locate returns the one token presented by req. The header and the query
// parameter are mutually exclusive. Otherwise the header wins over the
// XSRF-TOKEN cookie, which wins over the query parameter.
func (l *Locator) Locate(req Request) (*Credential, error) {
	header := req.Header(l.HeaderName)
	param := req.QueryParam(l.ParamName)

	switch {
	case header != "" && param != "":
		return nil, autherr.New(autherr.AmbiguousCredential,
			errors.New("token presented in both header and query parameter"))
	case header != "":
		return parseHeader(header)
	}
	if cookie := req.Cookie(static.CookieName); cookie != "" {
		return &Credential{Token: cookie, Origin: Cookie}, nil
	}
	if param != "" {
		return &Credential{Token: param, Origin: QueryParam}, nil
	}
	return nil, autherr.New(autherr.NoCredential, errors.New("no token found in request"))
}

// parseHeader accepts only "bearer <token>". Any other first word, notably a
// stale API "token" scheme, is forbidden.
func parseHeader(value string) (*Credential, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 || fields[0] != static.BearerScheme {
		return nil, autherr.New(autherr.ForbiddenScheme,
			errors.New("authorization header must use the bearer scheme"))
	}
	if len(fields) < 2 {
		return nil, autherr.New(autherr.NoCredential,
			errors.New("authorization header has no token"))
	}
	return &Credential{Token: fields[1], Origin: Header}, nil
}
