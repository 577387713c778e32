package handler

import (
	"net/http"
)

// httpExchange adapts an HTTP request and its response writer to the
// resolver.Exchange port.
type httpExchange struct {
	rw     http.ResponseWriter
	req    *http.Request
	client *Client
	// cleared is set once the caller's previous session has been dropped.
	cleared bool
}

func (e *httpExchange) Header(name string) string {
	return e.req.Header.Get(name)
}

func (e *httpExchange) Cookie(name string) string {
	ck, err := e.req.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (e *httpExchange) QueryParam(name string) string {
	return e.req.URL.Query().Get(name)
}

func (e *httpExchange) ClearSession() error {
	if err := e.client.clearSession(e.rw, e.req); err != nil {
		return err
	}
	e.cleared = true
	return nil
}
