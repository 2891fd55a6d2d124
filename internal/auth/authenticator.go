package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadside/internal/domain"
	"roadside/internal/repository"
)

// ErrInactive is returned for a deactivated account.
var ErrInactive = errors.New("account is deactivated")

// UserLookup loads the stored account behind a principal.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator verifies a token and applies the stored account state.
type Authenticator struct {
	verifier *Verifier
	users    UserLookup
}

// NewAuthenticator creates an Authenticator. users may be nil.
func NewAuthenticator(verifier *Verifier, users UserLookup) *Authenticator {
	return &Authenticator{verifier: verifier, users: users}
}

// Authenticate returns the principal for token. Accounts are provisioned by
// the identity service; when a local record exists its role and active flag
// win over the token claims.
func (a *Authenticator) Authenticate(ctx context.Context, token string, rejectWithin time.Duration) (domain.Principal, error) {
	p, err := a.verifier.Verify(token, rejectWithin)
	if err != nil {
		return domain.Principal{}, err
	}
	if a.users == nil {
		return p, nil
	}

	u, err := a.users.GetByID(ctx, p.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return p, nil
	case err != nil:
		return domain.Principal{}, fmt.Errorf("load user %s: %w", p.ID, err)
	case !u.Active:
		return domain.Principal{}, ErrInactive
	}
	return u.Principal(), nil
}
