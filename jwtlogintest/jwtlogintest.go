// Package jwtlogintest runs a complete jwtlogin server for unit tests of
// its clients.
package jwtlogintest

import (
	"net/http/httptest"
	"net/url"

	"github.com/alicebob/miniredis"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/auth/credential"
	"github.com/m-lab/jwtlogin/auth/jwtverifier"
	"github.com/m-lab/jwtlogin/auth/resolver"
	"github.com/m-lab/jwtlogin/handler"
	"github.com/m-lab/jwtlogin/session"
	"github.com/m-lab/jwtlogin/static"
)

// Hub is a jwtlogin server in secret mode with sessions held by an in-memory
// Redis server.
type Hub struct {
	*httptest.Server
	Redis  *miniredis.Miniredis
	secret []byte
}

// NewHubServer starts a Hub verifying tokens with cfg, which must include a
// Secret. Sessions are served below static.HubBaseURL.
func NewHubServer(cfg jwtverifier.Config) (*Hub, error) {
	m, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	v := jwtverifier.New(cfg)
	r := resolver.New(credential.NewLocator("", ""), v, false)
	store := session.NewStore(session.NewPool(m.Addr()), 0)
	c := handler.NewClient(r, store, static.HubBaseURL, static.PostLoginURL, false)

	srv := httptest.NewServer(handler.NewMux(c))
	log.Println("Listening for INSECURE login requests on " + srv.URL)
	return &Hub{
		Server: srv,
		Redis:  m,
		secret: append([]byte(nil), cfg.Secret...),
	}, nil
}

// BaseURL returns the hub base URL of the server.
func (h *Hub) BaseURL() *url.URL {
	u, _ := url.Parse(h.URL)
	u.Path = static.HubBaseURL
	return u
}

// Token signs claims with the server secret using HS256.
func (h *Hub) Token(claims map[string]interface{}) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(h.secret)
}

// Close stops the HTTP and Redis servers.
func (h *Hub) Close() {
	h.Server.Close()
	h.Redis.Close()
}
