package handler

import (
	"context"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/static"
)

type contextKey int

const requestIDKey contextKey = 0

// RequestID assigns a new UUID to every request. The id is returned in the
// X-Request-Id response header and is available to handlers through
// RequestIDFromContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		id := uuid.NewString()
		rw.Header().Set(static.RequestIDHeader, id)
		ctx := context.WithValue(req.Context(), requestIDKey, id)
		next.ServeHTTP(rw, req.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id set by RequestID, or the
// empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logging logs the method, path, status and latency of every request. Query
// parameters are never logged since they may carry a token.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		m := httpsnoop.CaptureMetrics(next, rw, req)
		log.WithFields(log.Fields{
			"request_id": RequestIDFromContext(req.Context()),
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     m.Code,
			"duration":   m.Duration.String(),
		}).Debug("Served request")
	})
}

// Instrument returns a middleware recording the handler latency for path.
func Instrument(path string) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerDuration(
			metrics.RequestHandlerDuration.MustCurryWith(prometheus.Labels{"path": path}), next)
	}
}

// NewMux registers the login, logout and user handlers of c below the path of
// the hub base URL. Login is also served at /login.
func NewMux(c *Client) *http.ServeMux {
	base := cookiePath(c.hubBaseURL)
	chain := alice.New(RequestID, Logging)

	mux := http.NewServeMux()
	handle := func(p string, h http.HandlerFunc) {
		mux.Handle("GET "+p, chain.Append(Instrument(p)).ThenFunc(h))
	}
	login := joinURLPath(base, static.LoginPath)
	handle(login, c.Login)
	if login != "/"+static.LoginPath {
		handle("/"+static.LoginPath, c.Login)
	}
	handle(joinURLPath(base, static.LogoutPath), c.Logout)
	handle(joinURLPath(base, static.UserAPIPath), c.Whoami)
	return mux
}
