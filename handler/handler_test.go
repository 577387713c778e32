package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-test/deep"
	"github.com/golang-jwt/jwt/v5"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/go/rtx"
	v1 "github.com/m-lab/jwtlogin/api/v1"
	"github.com/m-lab/jwtlogin/auth/credential"
	"github.com/m-lab/jwtlogin/auth/jwtverifier"
	"github.com/m-lab/jwtlogin/auth/resolver"
	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/session"
	"github.com/m-lab/jwtlogin/static"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	// Disable most logs for unit tests.
	log.SetLevel(log.FatalLevel)
}

func mustToken(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	rtx.Must(err, "failed to sign token")
	return s
}

type fakeSessions struct {
	createErr error
	getErr    error
	deleteErr error
	deleted   []string
}

func (f *fakeSessions) Create(username string) (*session.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &session.Session{ID: "fake", Username: username, Created: time.Now()}, nil
}

func (f *fakeSessions) Get(id string) (*session.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, session.ErrNotFound
}

func (f *fakeSessions) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeSessions) TTL() time.Duration {
	return time.Hour
}

type fakeAccounts struct {
	exists bool
}

func (f *fakeAccounts) Exists(name string) (bool, error) {
	return f.exists, nil
}

func (f *fakeAccounts) Create(ctx context.Context, name string) error {
	return errors.New("not allowed")
}

func newResolver(logoutOnNewToken bool) *resolver.Resolver {
	v := jwtverifier.New(jwtverifier.Config{
		Secret:                []byte(testSecret),
		BooleanClaims:         []string{"staff"},
		BooleanNegativeClaims: []string{"suspended"},
	})
	return resolver.New(credential.NewLocator("", ""), v, logoutOnNewToken)
}

func newStore(t *testing.T) (*session.Store, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	rtx.Must(err, "failed to start miniredis")
	t.Cleanup(m.Close)
	return session.NewStore(session.NewPool(m.Addr()), 0), m
}

func sessionCookie(cookies []*http.Cookie) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == static.SessionCookieName {
			return ck
		}
	}
	return nil
}

func TestClient_Login(t *testing.T) {
	valid := jwt.MapClaims{
		"upn":   "alice@example.com",
		"staff": true,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tests := []struct {
		name         string
		header       string
		xsrfCookie   string
		query        url.Values
		resolver     resolver.UsernameResolver
		sessions     Sessions
		wantStatus   int
		wantLocation string
		wantType     string
	}{
		{
			name:         "success-header",
			header:       "bearer " + mustToken(t, testSecret, valid),
			wantStatus:   http.StatusFound,
			wantLocation: "/hub/home",
		},
		{
			name:         "success-cookie",
			xsrfCookie:   mustToken(t, testSecret, valid),
			wantStatus:   http.StatusFound,
			wantLocation: "/hub/home",
		},
		{
			name:         "success-query-param",
			query:        url.Values{"access_token": {mustToken(t, testSecret, valid)}},
			wantStatus:   http.StatusFound,
			wantLocation: "/hub/home",
		},
		{
			name:       "error-ambiguous",
			header:     "bearer " + mustToken(t, testSecret, valid),
			query:      url.Values{"access_token": {mustToken(t, testSecret, valid)}},
			wantStatus: http.StatusBadRequest,
			wantType:   "ambiguous_credential",
		},
		{
			name:       "error-token-scheme",
			header:     "token abc123",
			wantStatus: http.StatusForbidden,
			wantType:   "forbidden_scheme",
		},
		{
			name:       "error-no-credential",
			wantStatus: http.StatusUnauthorized,
			wantType:   "no_credential",
		},
		{
			name:       "error-wrong-secret",
			header:     "bearer " + mustToken(t, "fedcba9876543210fedcba9876543210", valid),
			wantStatus: http.StatusUnauthorized,
			wantType:   "invalid_token",
		},
		{
			name: "error-claim-not-true",
			header: "bearer " + mustToken(t, testSecret, jwt.MapClaims{
				"upn": "alice", "staff": false,
			}),
			wantStatus: http.StatusUnauthorized,
			wantType:   "claim_validation_failed",
		},
		{
			name: "error-negative-claim-true",
			header: "bearer " + mustToken(t, testSecret, jwt.MapClaims{
				"upn": "alice", "staff": true, "suspended": 1,
			}),
			wantStatus: http.StatusUnauthorized,
			wantType:   "claim_validation_failed",
		},
		{
			name: "error-missing-username",
			header: "bearer " + mustToken(t, testSecret, jwt.MapClaims{
				"sub": "alice", "staff": true,
			}),
			wantStatus: http.StatusUnauthorized,
			wantType:   "missing_username_claim",
		},
		{
			name:       "error-unknown-system-user",
			header:     "bearer " + mustToken(t, testSecret, valid),
			resolver:   resolver.NewLocal(newResolver(false), &fakeAccounts{}, false),
			wantStatus: http.StatusForbidden,
			wantType:   "unknown_system_user",
		},
		{
			name:       "error-provision-failed",
			header:     "bearer " + mustToken(t, testSecret, valid),
			resolver:   resolver.NewLocal(newResolver(false), &fakeAccounts{}, true),
			wantStatus: http.StatusInternalServerError,
			wantType:   "provision_failed",
		},
		{
			name:       "error-session-store",
			header:     "bearer " + mustToken(t, testSecret, valid),
			sessions:   &fakeSessions{createErr: errors.New("fake redis error")},
			wantStatus: http.StatusInternalServerError,
			wantType:   "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.resolver
			if r == nil {
				r = newResolver(false)
			}
			sessions := tt.sessions
			var store *session.Store
			if sessions == nil {
				store, _ = newStore(t)
				sessions = store
			}
			c := NewClient(r, sessions, static.HubBaseURL, static.PostLoginURL, true)

			req := httptest.NewRequest(http.MethodGet, "/hub/login?"+tt.query.Encode(), nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.xsrfCookie != "" {
				req.AddCookie(&http.Cookie{Name: static.CookieName, Value: tt.xsrfCookie})
			}
			rw := httptest.NewRecorder()
			c.Login(rw, req)

			if rw.Code != tt.wantStatus {
				t.Fatalf("Login() status = %d, want %d; body %s", rw.Code, tt.wantStatus, rw.Body.String())
			}
			ck := sessionCookie(rw.Result().Cookies())
			if tt.wantStatus != http.StatusFound {
				if ck != nil {
					t.Errorf("Login() set session cookie on failure: %v", ck)
				}
				result := &v1.ErrorResult{}
				rtx.Must(json.Unmarshal(rw.Body.Bytes(), result), "failed to parse error result")
				if result.Error == nil || result.Error.Type != tt.wantType || result.Error.Status != tt.wantStatus {
					t.Errorf("Login() error = %#v, want type %q status %d", result.Error, tt.wantType, tt.wantStatus)
				}
				if tt.wantStatus >= http.StatusInternalServerError && result.Error.Detail != "" {
					t.Errorf("Login() leaked internal detail %q", result.Error.Detail)
				}
				return
			}

			if got := rw.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Login() Location = %q, want %q", got, tt.wantLocation)
			}
			if ck == nil {
				t.Fatalf("Login() did not set the session cookie")
			}
			if !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteLaxMode || ck.Path != "/hub/" {
				t.Errorf("Login() cookie attributes = %#v", ck)
			}
			if ck.MaxAge != int(static.SessionTTL/time.Second) {
				t.Errorf("Login() cookie MaxAge = %d, want %d", ck.MaxAge, int(static.SessionTTL/time.Second))
			}
			sess, err := store.Get(ck.Value)
			if err != nil {
				t.Fatalf("session not stored: %v", err)
			}
			if sess.Username != "alice" {
				t.Errorf("session username = %q, want alice", sess.Username)
			}
		})
	}
}

func TestClient_LoginLogoutOnNewToken(t *testing.T) {
	tests := []struct {
		name       string
		claims     jwt.MapClaims
		wantStatus int
	}{
		{
			name:       "valid-token-replaces-session",
			claims:     jwt.MapClaims{"upn": "bob", "staff": true},
			wantStatus: http.StatusFound,
		},
		{
			name:       "invalid-token-still-clears-session",
			claims:     jwt.MapClaims{"upn": "bob"},
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newStore(t)
			old, err := store.Create("alice")
			rtx.Must(err, "failed to create session")
			c := NewClient(newResolver(true), store, "/hub/", "home", false)

			req := httptest.NewRequest(http.MethodGet, "/hub/login", nil)
			req.Header.Set("Authorization", "bearer "+mustToken(t, testSecret, tt.claims))
			req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: old.ID})
			rw := httptest.NewRecorder()
			c.Login(rw, req)

			if rw.Code != tt.wantStatus {
				t.Fatalf("Login() status = %d, want %d", rw.Code, tt.wantStatus)
			}
			if _, err := store.Get(old.ID); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("old session still present: %v", err)
			}
			cookies := rw.Result().Cookies()
			if len(cookies) == 0 || cookies[0].MaxAge >= 0 {
				t.Errorf("Login() did not expire the old cookie first: %v", cookies)
			}
		})
	}
}

func TestClient_LoginReplacesPreviousSession(t *testing.T) {
	store, _ := newStore(t)
	old, err := store.Create("alice")
	rtx.Must(err, "failed to create session")
	c := NewClient(newResolver(false), store, "/hub/", "home", false)

	req := httptest.NewRequest(http.MethodGet, "/hub/login", nil)
	req.Header.Set("Authorization", "bearer "+mustToken(t, testSecret, jwt.MapClaims{"upn": "bob", "staff": true}))
	req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: old.ID})
	rw := httptest.NewRecorder()
	c.Login(rw, req)

	if rw.Code != http.StatusFound {
		t.Fatalf("Login() status = %d, want %d", rw.Code, http.StatusFound)
	}
	if _, err := store.Get(old.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("previous session still present: %v", err)
	}
	ck := sessionCookie(rw.Result().Cookies())
	if ck == nil || ck.Value == old.ID {
		t.Fatalf("Login() session cookie = %v, want a new session", ck)
	}
	sess, err := store.Get(ck.Value)
	if err != nil {
		t.Fatalf("new session not stored: %v", err)
	}
	if sess.Username != "bob" {
		t.Errorf("session username = %q, want bob", sess.Username)
	}
}

func TestClient_LoginPreviousSessionDeleteFails(t *testing.T) {
	sessions := &fakeSessions{deleteErr: errors.New("fake redis error")}
	c := NewClient(newResolver(false), sessions, "/hub/", "home", false)

	req := httptest.NewRequest(http.MethodGet, "/hub/login", nil)
	req.Header.Set("Authorization", "bearer "+mustToken(t, testSecret, jwt.MapClaims{"upn": "bob", "staff": true}))
	req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: "previous"})
	rw := httptest.NewRecorder()
	c.Login(rw, req)

	if rw.Code != http.StatusFound {
		t.Errorf("Login() status = %d, want %d", rw.Code, http.StatusFound)
	}
	if diff := deep.Equal(sessions.deleted, []string{"previous"}); diff != nil {
		t.Errorf("Delete() calls differ: %v", diff)
	}
}

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	rtx.Must(metrics.LoginRequestsTotal.WithLabelValues(labels...).Write(&m), "failed to read counter")
	return m.GetCounter().GetValue()
}

func TestClient_LoginFailureOrigin(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(req *http.Request)
		labels []string
	}{
		{
			name: "header",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "bearer "+mustToken(t, "wrong-secret-wrong-secret-wrong!", jwt.MapClaims{"upn": "bob"}))
			},
			labels: []string{"header", "invalid_token", "401"},
		},
		{
			name: "cookie",
			setup: func(req *http.Request) {
				req.AddCookie(&http.Cookie{Name: static.CookieName, Value: mustToken(t, testSecret, jwt.MapClaims{"upn": "bob"})})
			},
			labels: []string{"cookie", "claim_validation_failed", "401"},
		},
		{
			name: "query-param",
			setup: func(req *http.Request) {
				q := url.Values{"access_token": {mustToken(t, testSecret, jwt.MapClaims{"staff": true})}}
				req.URL.RawQuery = q.Encode()
			},
			labels: []string{"query_param", "missing_username_claim", "401"},
		},
		{
			name:   "no-credential",
			setup:  func(req *http.Request) {},
			labels: []string{"none", "no_credential", "401"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(newResolver(false), &fakeSessions{}, "/hub/", "home", false)
			req := httptest.NewRequest(http.MethodGet, "/hub/login", nil)
			tt.setup(req)
			before := counterValue(t, tt.labels...)
			c.Login(httptest.NewRecorder(), req)
			if got := counterValue(t, tt.labels...) - before; got != 1 {
				t.Errorf("LoginRequestsTotal%v increased by %v, want 1", tt.labels, got)
			}
		})
	}
}

func TestClient_Logout(t *testing.T) {
	tests := []struct {
		name       string
		sessions   *fakeSessions
		cookie     string
		wantDelete []string
	}{
		{
			name:       "with-session",
			sessions:   &fakeSessions{},
			cookie:     "abc",
			wantDelete: []string{"abc"},
		},
		{
			name:     "without-session",
			sessions: &fakeSessions{},
		},
		{
			name:       "delete-error",
			sessions:   &fakeSessions{deleteErr: errors.New("fake redis error")},
			cookie:     "abc",
			wantDelete: []string{"abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(newResolver(false), tt.sessions, "https://example.com/jupyter/hub/", "home", false)
			req := httptest.NewRequest(http.MethodGet, "/jupyter/hub/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: tt.cookie})
			}
			rw := httptest.NewRecorder()
			c.Logout(rw, req)

			if rw.Code != http.StatusFound {
				t.Errorf("Logout() status = %d, want %d", rw.Code, http.StatusFound)
			}
			if got := rw.Header().Get("Location"); got != "https://example.com/jupyter/hub/login" {
				t.Errorf("Logout() Location = %q", got)
			}
			if diff := deep.Equal(tt.sessions.deleted, tt.wantDelete); diff != nil {
				t.Errorf("Logout() deleted sessions diff: %v", diff)
			}
			ck := sessionCookie(rw.Result().Cookies())
			if (ck != nil) != (tt.cookie != "") {
				t.Fatalf("Logout() cookie = %v, want cookie %t", ck, tt.cookie != "")
			}
			if ck != nil && (ck.MaxAge >= 0 || ck.Path != "/jupyter/hub/") {
				t.Errorf("Logout() cookie = %#v, want expired cookie on /jupyter/hub/", ck)
			}
		})
	}
}

func TestClient_Whoami(t *testing.T) {
	store, _ := newStore(t)
	sess, err := store.Create("alice")
	rtx.Must(err, "failed to create session")

	tests := []struct {
		name       string
		sessions   Sessions
		cookie     string
		wantStatus int
		wantName   string
	}{
		{
			name:       "success",
			sessions:   store,
			cookie:     sess.ID,
			wantStatus: http.StatusOK,
			wantName:   "alice",
		},
		{
			name:       "no-cookie",
			sessions:   store,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown-session",
			sessions:   store,
			cookie:     "does-not-exist",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "store-error",
			sessions:   &fakeSessions{getErr: errors.New("fake redis error")},
			cookie:     "abc",
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(newResolver(false), tt.sessions, "/hub/", "home", false)
			req := httptest.NewRequest(http.MethodGet, "/hub/api/user", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: static.SessionCookieName, Value: tt.cookie})
			}
			rw := httptest.NewRecorder()
			c.Whoami(rw, req)

			if rw.Code != tt.wantStatus {
				t.Fatalf("Whoami() status = %d, want %d", rw.Code, tt.wantStatus)
			}
			if rw.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Whoami() missing Cache-Control header")
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			result := &v1.UserResult{}
			rtx.Must(json.Unmarshal(rw.Body.Bytes(), result), "failed to parse user result")
			if result.Name != tt.wantName {
				t.Errorf("Whoami() name = %q, want %q", result.Name, tt.wantName)
			}
		})
	}
}

func TestJoinURLPath(t *testing.T) {
	tests := []struct {
		base string
		p    string
		want string
	}{
		{base: "/hub/", p: "home", want: "/hub/home"},
		{base: "/hub", p: "/home", want: "/hub/home"},
		{base: "/hub/", p: "", want: "/hub/"},
		{base: "", p: "home", want: "home"},
		{base: "/", p: "login", want: "/login"},
		{base: "https://example.com/hub/", p: "spawn", want: "https://example.com/hub/spawn"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.p, func(t *testing.T) {
			if got := joinURLPath(tt.base, tt.p); got != tt.want {
				t.Errorf("joinURLPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCookiePath(t *testing.T) {
	tests := []struct {
		hub  string
		want string
	}{
		{hub: "/hub/", want: "/hub/"},
		{hub: "https://example.com/jupyter/hub/", want: "/jupyter/hub/"},
		{hub: "https://example.com", want: "/"},
		{hub: "http://[::1", want: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.hub, func(t *testing.T) {
			if got := cookiePath(tt.hub); got != tt.want {
				t.Errorf("cookiePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
