// Package handler provides a client and handlers for the hub login, logout
// and current user requests.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/m-lab/go/rtx"
	v1 "github.com/m-lab/jwtlogin/api/v1"
	"github.com/m-lab/jwtlogin/auth/autherr"
	"github.com/m-lab/jwtlogin/auth/resolver"
	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/session"
	"github.com/m-lab/jwtlogin/static"
)

// Sessions defines how login sessions are stored.
type Sessions interface {
	Create(username string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
	TTL() time.Duration
}

// Client contains state needed by the handlers.
type Client struct {
	resolver.UsernameResolver
	sessions     Sessions
	hubBaseURL   string
	postLoginURL string
	secureCookie bool
}

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

// NewClient creates a new client. After a successful login users are
// redirected to postLoginURL, relative to hubBaseURL.
func NewClient(r resolver.UsernameResolver, sessions Sessions, hubBaseURL, postLoginURL string, secureCookie bool) *Client {
	return &Client{
		UsernameResolver: r,
		sessions:         sessions,
		hubBaseURL:       hubBaseURL,
		postLoginURL:     postLoginURL,
		secureCookie:     secureCookie,
	}
}

// Login implements /hub/login requests. The token presented with the request
// is resolved to a username, and a new login session is started for it.
func (c *Client) Login(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	ex := &httpExchange{rw: rw, req: req, client: c}

	id, err := c.Resolve(req.Context(), ex)
	if err != nil {
		c.loginFailed(rw, req, err)
		return
	}

	sess, err := c.sessions.Create(id.Username)
	if err != nil {
		c.loginFailed(rw, req, err)
		return
	}

	if !ex.cleared {
		c.dropPreviousSession(req, sess.ID)
	}

	http.SetCookie(rw, c.cookie(sess.ID, int(c.sessions.TTL()/time.Second)))
	http.Redirect(rw, req, joinURLPath(c.hubBaseURL, c.postLoginURL), http.StatusFound)

	log.WithFields(log.Fields{
		"request_id": RequestIDFromContext(req.Context()),
		"origin":     id.Origin,
		"username":   id.Username,
	}).Info("User logged in")
	metrics.LoginRequestsTotal.WithLabelValues(string(id.Origin), "OK", strconv.Itoa(http.StatusFound)).Inc()
}

// Logout implements /hub/logout requests. The current session, if any, is
// deleted and the user is sent back to the login page.
func (c *Client) Logout(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	if err := c.clearSession(rw, req); err != nil {
		// The cookie is expired regardless; the stored session times out.
		log.WithFields(log.Fields{
			"request_id": RequestIDFromContext(req.Context()),
		}).WithError(err).Warn("Failed to delete login session")
	}
	http.Redirect(rw, req, joinURLPath(c.hubBaseURL, static.LoginPath), http.StatusFound)
}

// Whoami implements /hub/api/user requests, returning the user of the
// current login session.
func (c *Client) Whoami(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	sess, err := c.currentSession(req)
	switch {
	case errors.Is(err, session.ErrNotFound):
		result := v1.ErrorResult{
			Error: v1.NewError("no_session", "No login session", http.StatusUnauthorized),
		}
		writeResult(rw, result.Error.Status, &result)
		return
	case err != nil:
		log.WithFields(log.Fields{
			"request_id": RequestIDFromContext(req.Context()),
		}).WithError(err).Error("Failed to read login session")
		result := v1.ErrorResult{
			Error: v1.NewError("session", http.StatusText(http.StatusInternalServerError),
				http.StatusInternalServerError),
		}
		writeResult(rw, result.Error.Status, &result)
		return
	}

	writeResult(rw, http.StatusOK, &v1.UserResult{
		Name:    sess.Username,
		Created: sess.Created.Format(time.RFC3339),
	})
}

// dropPreviousSession deletes the session named by the request's cookie, which
// the new session replaces. A failure is logged and the stale session expires
// on its own.
func (c *Client) dropPreviousSession(req *http.Request, current string) {
	ck, err := req.Cookie(static.SessionCookieName)
	if err != nil || ck.Value == "" || ck.Value == current {
		return
	}
	if err := c.sessions.Delete(ck.Value); err != nil {
		log.WithFields(log.Fields{
			"request_id": RequestIDFromContext(req.Context()),
		}).WithError(err).Warn("Failed to delete previous login session")
	}
}

// loginFailed reports err with the status of its kind. Internal failures are
// logged but their detail is not returned to the client.
func (c *Client) loginFailed(rw http.ResponseWriter, req *http.Request, err error) {
	kind := autherr.KindOf(err)
	status := kind.Status()
	origin := autherr.OriginOf(err)
	if origin == "" {
		origin = "none"
	}
	result := v1.ErrorResult{
		Error: v1.NewError(kind.String(), http.StatusText(status), status),
	}

	fields := log.Fields{
		"request_id": RequestIDFromContext(req.Context()),
		"origin":     origin,
		"kind":       kind.String(),
		"status":     status,
	}
	if status >= http.StatusInternalServerError {
		log.WithFields(fields).WithError(err).Error("Login failed")
	} else {
		result.Error.Detail = err.Error()
		log.WithFields(fields).WithError(err).Info("Login refused")
	}

	writeResult(rw, status, &result)
	metrics.LoginRequestsTotal.WithLabelValues(origin, kind.String(), strconv.Itoa(status)).Inc()
}

func (c *Client) currentSession(req *http.Request) (*session.Session, error) {
	ck, err := req.Cookie(static.SessionCookieName)
	if err != nil || ck.Value == "" {
		return nil, session.ErrNotFound
	}
	return c.sessions.Get(ck.Value)
}

// clearSession expires the session cookie and deletes the stored session.
// It does nothing when the request carries no session cookie.
func (c *Client) clearSession(rw http.ResponseWriter, req *http.Request) error {
	ck, err := req.Cookie(static.SessionCookieName)
	if err != nil || ck.Value == "" {
		return nil
	}
	http.SetCookie(rw, c.cookie("", -1))
	return c.sessions.Delete(ck.Value)
}

// cookie returns the session cookie. A negative maxAge deletes it.
func (c *Client) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     static.SessionCookieName,
		Value:    value,
		Path:     cookiePath(c.hubBaseURL),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// setHeaders sets the response headers shared by every handler.
func setHeaders(rw http.ResponseWriter) {
	// Responses depend on credentials and must never be cached.
	rw.Header().Set("Cache-Control", "no-store")
}

// writeResult marshals the result and writes the result to the response writer.
func writeResult(rw http.ResponseWriter, status int, result interface{}) {
	b, err := json.MarshalIndent(result, "", "  ")
	// Errors are only possible when marshalling incompatible types, like functions.
	rtx.PanicOnError(err, "Failed to format result")
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(b)
}

// joinURLPath joins two URL path fragments with exactly one slash between
// them. An empty fragment leaves the other unchanged.
func joinURLPath(base, p string) string {
	switch {
	case p == "":
		return base
	case base == "":
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// cookiePath returns the path component of the hub base URL, which may be a
// bare path or an absolute URL.
func cookiePath(hubBaseURL string) string {
	u, err := url.Parse(hubBaseURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
