package resolver

import (
	"context"
	"fmt"

	"github.com/m-lab/jwtlogin/auth/autherr"
)

// Accounts looks up and creates local system accounts.
type Accounts interface {
	Exists(name string) (bool, error)
	Create(ctx context.Context, name string) error
}

// LocalResolver resolves the username with another resolver and then makes
// sure a local system account of that name exists.
type LocalResolver struct {
	next              UsernameResolver
	accounts          Accounts
	createSystemUsers bool
}

// NewLocal wraps next. Missing accounts are created only when
// createSystemUsers is set; otherwise the login is refused.
func NewLocal(next UsernameResolver, accounts Accounts, createSystemUsers bool) *LocalResolver {
	return &LocalResolver{
		next:              next,
		accounts:          accounts,
		createSystemUsers: createSystemUsers,
	}
}

// Resolve implements UsernameResolver.
func (r *LocalResolver) Resolve(ctx context.Context, ex Exchange) (*Identity, error) {
	id, err := r.next.Resolve(ctx, ex)
	if err != nil {
		return nil, err
	}
	exists, err := r.accounts.Exists(id.Username)
	if err != nil {
		return nil, autherr.WithOrigin(autherr.New(autherr.ProvisionFailed,
			fmt.Errorf("failed to look up system user %q: %w", id.Username, err)), string(id.Origin))
	}
	if exists {
		return id, nil
	}
	if !r.createSystemUsers {
		return nil, autherr.WithOrigin(autherr.New(autherr.UnknownSystemUser,
			fmt.Errorf("system user %q does not exist", id.Username)), string(id.Origin))
	}
	if err := r.accounts.Create(ctx, id.Username); err != nil {
		return nil, autherr.WithOrigin(autherr.New(autherr.ProvisionFailed, err), string(id.Origin))
	}
	return id, nil
}
