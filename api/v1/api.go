// Package v1 defines the response types of the jwtlogin service.
package v1

// Error describes why a login request was refused.
type Error struct {
	// RFC7807 Fields for "Problem Details".
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewError creates a new api Error.
func NewError(typ, title string, status int) *Error {
	return &Error{
		Type:   typ,
		Title:  title,
		Status: status,
	}
}

// ErrorResult is the body of every failed request.
type ErrorResult struct {
	Error *Error `json:"error"`
}

// UserResult describes the user of the current login session.
type UserResult struct {
	Name string `json:"name"`
	// Created is when the session started, in RFC3339 format.
	Created string `json:"created,omitempty"`
}
