// Package static contains static information for the jwtlogin service.
package static

import "time"

// Default names of the request locations inspected for a token, and the
// default verification settings.
const (
	HeaderName         = "Authorization"
	ParamName          = "access_token"
	CookieName         = "XSRF-TOKEN"
	BearerScheme       = "bearer"
	UsernameClaimField = "upn"
	PostLoginURL       = "home"
	HubBaseURL         = "/hub/"
)

// Hub endpoints, relative to the hub base URL.
const (
	LoginPath       = "login"
	LogoutPath      = "logout"
	UserAPIPath     = "api/user"
	RequestIDHeader = "X-Request-Id"
)

// Session and provisioning defaults.
const (
	SessionCookieName = "jwtlogin-session"
	SessionKeyPrefix  = "session:"
	SessionTTL        = 14 * 24 * time.Hour
	RedisMaxIdle      = 3
	RedisIdleTimeout  = 240 * time.Second
)

// Secret Manager retry settings. These only apply while loading the shared
// secret at startup.
const (
	BackoffInitialInterval     = time.Second
	BackoffRandomizationFactor = 0.5
	BackoffMultiplier          = 2
	BackoffMaxInterval         = 30 * time.Second
	BackoffMaxRetries          = 5
)

// AddUserCommand is the default command used to create local system accounts.
// The username is appended as the final argument.
var AddUserCommand = []string{"adduser", "-q", "--gecos", "", "--disabled-password"}
