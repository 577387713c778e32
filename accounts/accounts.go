// Package accounts looks up and creates local system accounts for users
// logging in to the hub.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"os/user"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/static"
)

var (
	errEmptyCommand = errors.New("no add user command configured")
	errInvalidName  = errors.New("invalid system account name")
)

// Runner runs an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// System manages accounts in the local user database.
type System struct {
	addUserCommand []string
	lookup         func(name string) (*user.User, error)
	run            Runner
}

// NewSystem creates a System that runs addUserCommand followed by the
// username to create accounts. A nil command uses static.AddUserCommand.
func NewSystem(addUserCommand []string) *System {
	if addUserCommand == nil {
		addUserCommand = static.AddUserCommand
	}
	return &System{
		addUserCommand: append([]string(nil), addUserCommand...),
		lookup:         user.Lookup,
		run:            execRunner,
	}
}

// Exists reports whether the named account exists.
func (s *System) Exists(name string) (bool, error) {
	_, err := s.lookup(name)
	var unknown user.UnknownUserError
	switch {
	case errors.As(err, &unknown):
		metrics.SystemAccountsTotal.WithLabelValues("lookup", "unknown").Inc()
		return false, nil
	case err != nil:
		metrics.SystemAccountsTotal.WithLabelValues("lookup", "error").Inc()
		return false, err
	}
	metrics.SystemAccountsTotal.WithLabelValues("lookup", "OK").Inc()
	return true, nil
}

// Create adds the named account.
func (s *System) Create(ctx context.Context, name string) error {
	if len(s.addUserCommand) == 0 {
		return errEmptyCommand
	}
	if !validName(name) {
		return fmt.Errorf("%w: %q", errInvalidName, name)
	}
	args := append(append([]string(nil), s.addUserCommand[1:]...), name)
	out, err := s.run(ctx, s.addUserCommand[0], args...)
	if err != nil {
		metrics.SystemAccountsTotal.WithLabelValues("create", "error").Inc()
		return fmt.Errorf("%s failed for %q: %w: %s", s.addUserCommand[0], name, err,
			strings.TrimSpace(string(out)))
	}
	metrics.SystemAccountsTotal.WithLabelValues("create", "OK").Inc()
	log.WithFields(log.Fields{
		"username": name,
	}).Info("Created system account")
	return nil
}

// validName rejects names that the add user command could read as an option
// or that can never be valid account names.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "-") {
		return false
	}
	return !strings.ContainsAny(name, "/: \t\n\x00")
}
