// Package login implements a client for the hub login endpoints served by
// jwtlogin.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	v1 "github.com/m-lab/jwtlogin/api/v1"
	"github.com/m-lab/jwtlogin/static"
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 15 * time.Second

// ErrRefused is returned when the server answers with an error result.
var ErrRefused = errors.New("request refused")

// ErrNoSession is returned when a login succeeds without a session cookie.
var ErrNoSession = errors.New("login response carries no session cookie")

// ErrNoUserAgent is returned when the client has no user agent.
var ErrNoUserAgent = errors.New("client has no user-agent specified")

// Client is a hub login client.
type Client struct {
	// HTTPClient performs the requests. Redirects are never followed so
	// that the login redirect and its session cookie can be inspected.
	HTTPClient *http.Client

	// Timeout is the maximum amount of time to wait for each request.
	Timeout time.Duration

	// UserAgent is the mandatory user agent to be used.
	UserAgent string

	// BaseURL is the hub base URL, e.g. http://localhost:8080/hub/.
	BaseURL *url.URL
}

// Result describes a successful login.
type Result struct {
	// Location is where the server redirected the user.
	Location string
	// Session is the id of the new login session.
	Session string
}

// NewClient creates a new Client for the hub at baseURL. The userAgent must
// not be empty.
func NewClient(userAgent string, baseURL *url.URL) *Client {
	return &Client{
		HTTPClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Timeout:   DefaultTimeout,
		UserAgent: userAgent,
		BaseURL:   baseURL,
	}
}

// Login presents token as a bearer token and returns the new session.
func (c *Client) Login(ctx context.Context, token string) (*Result, error) {
	header := http.Header{}
	header.Set(static.HeaderName, static.BearerScheme+" "+token)
	resp, body, err := c.get(ctx, static.LoginPath, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusFound {
		return nil, refused(resp.StatusCode, body)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == static.SessionCookieName && ck.Value != "" {
			return &Result{Location: resp.Header.Get("Location"), Session: ck.Value}, nil
		}
	}
	return nil, ErrNoSession
}

// Whoami returns the user of the given session.
func (c *Client) Whoami(ctx context.Context, session string) (*v1.UserResult, error) {
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: static.SessionCookieName, Value: session}).String())
	resp, body, err := c.get(ctx, static.UserAPIPath, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, refused(resp.StatusCode, body)
	}
	user := &v1.UserResult{}
	if err := json.Unmarshal(body, user); err != nil {
		return nil, err
	}
	return user, nil
}

// refused converts an error response into an error wrapping ErrRefused.
func refused(status int, body []byte) error {
	result := &v1.ErrorResult{}
	if err := json.Unmarshal(body, result); err != nil || result.Error == nil {
		return fmt.Errorf("%w: status %d", ErrRefused, status)
	}
	return fmt.Errorf("%w: %s (%d): %s", ErrRefused, result.Error.Type, status, result.Error.Detail)
}

// get is an internal function used to perform the request.
func (c *Client) get(ctx context.Context, endpoint string, header http.Header) (*http.Response, []byte, error) {
	if c.UserAgent == "" {
		// user agent is required.
		return nil, nil, ErrNoUserAgent
	}
	reqctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	reqURL := *c.BaseURL
	reqURL.Path = path.Join(reqURL.Path, endpoint)
	req, err := http.NewRequestWithContext(reqctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp, b, err
}
