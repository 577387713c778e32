// Package config defines the jwtlogin configuration, loaded once at startup
// from defaults, an optional YAML file and command line flags, in increasing
// order of precedence.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/m-lab/go/flagx"
	"gopkg.in/yaml.v2"

	"github.com/m-lab/jwtlogin/auth/jwtverifier"
	"github.com/m-lab/jwtlogin/static"
)

// Config holds every setting of the login service.
type Config struct {
	SigningCertificate    string        `yaml:"signing_certificate"`
	UsernameClaimField    string        `yaml:"username_claim_field"`
	PostLoginURL          string        `yaml:"post_login_url"`
	ExpectedAudience      string        `yaml:"expected_audience"`
	HeaderName            string        `yaml:"header_name"`
	ParamName             string        `yaml:"param_name"`
	Secret                string        `yaml:"secret"`
	BooleanClaims         []string      `yaml:"boolean_claims"`
	BooleanNegativeClaims []string      `yaml:"boolean_negative_claims"`
	LogoutOnNewToken      bool          `yaml:"logout_on_new_token"`
	Leeway                time.Duration `yaml:"leeway"`
	CacheCertificate      bool          `yaml:"cache_certificate"`

	LocalUsers        bool     `yaml:"local_users"`
	CreateSystemUsers bool     `yaml:"create_system_users"`
	AddUserCommand    []string `yaml:"add_user_command"`

	HubBaseURL   string        `yaml:"hub_base_url"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		UsernameClaimField: static.UsernameClaimField,
		PostLoginURL:       static.PostLoginURL,
		HeaderName:         static.HeaderName,
		ParamName:          static.ParamName,
		HubBaseURL:         static.HubBaseURL,
		SessionTTL:         static.SessionTTL,
	}
}

// RegisterFlags binds a flag for every setting to the fields of c.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.SigningCertificate, "signing-certificate", c.SigningCertificate,
		"Path to the X509 PEM certificate of the key signing incoming tokens")
	fs.StringVar(&c.UsernameClaimField, "username-claim-field", c.UsernameClaimField,
		"Claim holding the username, either a plain name or an email/userPrincipalName")
	fs.StringVar(&c.PostLoginURL, "post-login-url", c.PostLoginURL,
		"Where to redirect the user after login, relative to the hub base URL")
	fs.StringVar(&c.ExpectedAudience, "expected-audience", c.ExpectedAudience,
		"Audience required in certificate mode; empty disables the check")
	fs.StringVar(&c.HeaderName, "header-name", c.HeaderName,
		"HTTP header to inspect for the token")
	fs.StringVar(&c.ParamName, "param-name", c.ParamName,
		"Query parameter to inspect for the token")
	fs.StringVar(&c.Secret, "secret", c.Secret,
		"Shared secret for verifying tokens; overrides -signing-certificate. Prefer -secret-file")
	fs.Var((*flagx.StringArray)(&c.BooleanClaims), "boolean-claims",
		"Claims that must be true to allow the login (repeat or separate with commas)")
	fs.Var((*flagx.StringArray)(&c.BooleanNegativeClaims), "boolean-negative-claims",
		"Claims that must be false or absent to allow the login (repeat or separate with commas)")
	fs.BoolVar(&c.LogoutOnNewToken, "logout-on-new-token", c.LogoutOnNewToken,
		"Clear any existing login session when a new token is presented")
	fs.DurationVar(&c.Leeway, "leeway", c.Leeway,
		"Clock skew tolerated when checking exp, nbf and iat")
	fs.BoolVar(&c.CacheCertificate, "cache-certificate", c.CacheCertificate,
		"Keep the parsed signing certificate in memory until SIGHUP")
	fs.BoolVar(&c.LocalUsers, "local-users", c.LocalUsers,
		"Require a local system account for every user")
	fs.BoolVar(&c.CreateSystemUsers, "create-system-users", c.CreateSystemUsers,
		"Create missing local system accounts; requires -local-users")
	fs.Var((*flagx.StringArray)(&c.AddUserCommand), "add-user-command",
		"Command used to create system accounts; the username is appended")
	fs.StringVar(&c.HubBaseURL, "hub-base-url", c.HubBaseURL,
		"Base URL of the hub, joined with -post-login-url for the redirect")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL,
		"Lifetime of a login session")
	fs.BoolVar(&c.SecureCookie, "secure-cookie", c.SecureCookie,
		"Mark the session cookie Secure")
}

// Load builds the configuration from the defaults, the YAML file at path (if
// not empty), and every flag explicitly set on fs, then validates it.
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if fs != nil {
		if err := c.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// applyFlags re-applies the flags set on fs so they win over the file.
// List flags replace, rather than extend, the lists from the file.
func (c *Config) applyFlags(fs *flag.FlagSet) error {
	overlay := flag.NewFlagSet("overlay", flag.ContinueOnError)
	c.RegisterFlags(overlay)

	var errs *multierror.Error
	reset := map[string]*[]string{
		"boolean-claims":          &c.BooleanClaims,
		"boolean-negative-claims": &c.BooleanNegativeClaims,
		"add-user-command":        &c.AddUserCommand,
	}
	fs.Visit(func(f *flag.Flag) {
		if overlay.Lookup(f.Name) == nil {
			return
		}
		if list, ok := reset[f.Name]; ok {
			*list = nil
		}
		if err := overlay.Set(f.Name, f.Value.String()); err != nil {
			errs = multierror.Append(errs, err)
		}
	})
	return errs.ErrorOrNil()
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.HeaderName == "" {
		errs = multierror.Append(errs, fmt.Errorf("header name must not be empty"))
	}
	if c.ParamName == "" {
		errs = multierror.Append(errs, fmt.Errorf("param name must not be empty"))
	}
	if c.UsernameClaimField == "" {
		errs = multierror.Append(errs, fmt.Errorf("username claim field must not be empty"))
	}
	if c.Leeway < 0 {
		errs = multierror.Append(errs, fmt.Errorf("leeway must not be negative: %v", c.Leeway))
	}
	if c.SessionTTL < time.Second {
		errs = multierror.Append(errs, fmt.Errorf("session TTL must be at least one second: %v", c.SessionTTL))
	}
	if _, err := url.Parse(c.HubBaseURL); err != nil || c.HubBaseURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("invalid hub base URL %q", c.HubBaseURL))
	}
	negative := map[string]bool{}
	for _, claim := range c.BooleanNegativeClaims {
		negative[claim] = true
	}
	for _, claim := range c.BooleanClaims {
		if negative[claim] {
			errs = multierror.Append(errs, fmt.Errorf("claim %q is both required and forbidden", claim))
		}
	}
	if c.CreateSystemUsers && !c.LocalUsers {
		errs = multierror.Append(errs, fmt.Errorf("create system users requires local users"))
	}
	if len(c.AddUserCommand) > 0 && strings.TrimSpace(c.AddUserCommand[0]) == "" {
		errs = multierror.Append(errs, fmt.Errorf("add user command must name a program"))
	}
	return errs.ErrorOrNil()
}

// Warnings returns settings that are valid but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.Secret == "" && c.SigningCertificate == "" {
		w = append(w, "neither a secret nor a signing certificate is configured; every login will be refused")
	}
	if c.Secret != "" && c.SigningCertificate != "" {
		w = append(w, "both a secret and a signing certificate are configured; the certificate is ignored")
	}
	if c.Secret != "" && c.ExpectedAudience != "" {
		w = append(w, "the expected audience is only checked in certificate mode")
	}
	return w
}

// Verifier returns the token verification settings.
func (c *Config) Verifier() jwtverifier.Config {
	return jwtverifier.Config{
		Secret:                []byte(c.Secret),
		CertificatePath:       c.SigningCertificate,
		ExpectedAudience:      c.ExpectedAudience,
		UsernameClaimField:    c.UsernameClaimField,
		BooleanClaims:         c.BooleanClaims,
		BooleanNegativeClaims: c.BooleanNegativeClaims,
		Leeway:                c.Leeway,
		CacheCertificate:      c.CacheCertificate,
	}
}
