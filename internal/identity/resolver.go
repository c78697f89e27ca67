// Package identity maps email addresses to durable user records.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/store"
)

// ErrUnknownUser is returned by Deserialize when the reference no longer
// names a user.
var ErrUnknownUser = errors.New("user not found")

// Ref is the identity reference stored in an authenticated session.
type Ref = int64

// Serialize maps a user to the reference kept in its session.
func Serialize(u *model.User) Ref {
	return u.ID
}

// Users is the persistence the resolver needs.
type Users interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, email string, verified bool) (*model.User, error)
	MarkVerified(ctx context.Context, id int64) error
}

var _ Users = (*store.UserStore)(nil)

type Resolver struct {
	users   Users
	backoff func() retry.Backoff
	logger  *slog.Logger
}

func NewResolver(users Users, logger *slog.Logger) *Resolver {
	return &Resolver{
		users: users,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(10*time.Millisecond))
		},
		logger: logger,
	}
}

func (r *Resolver) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.users.GetByEmail(ctx, email)
}

func (r *Resolver) CreateUser(ctx context.Context, email string, verified bool) (*model.User, error) {
	return r.users.Create(ctx, email, verified)
}

func (r *Resolver) MarkVerified(ctx context.Context, u *model.User) error {
	if u.Verified {
		return nil
	}
	if err := r.users.MarkVerified(ctx, u.ID); err != nil {
		return err
	}
	u.Verified = true
	return nil
}

// Resolve returns the verified user owning email, creating it when absent. A
// concurrent sign-in that inserts the same email first is absorbed by
// re-reading the winner's row.
func (r *Resolver) Resolve(ctx context.Context, email string) (*model.User, error) {
	u, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if u == nil {
		u, err = r.users.Create(ctx, email, true)
		if errors.Is(err, store.ErrDuplicateEmail) {
			r.logger.Debug("duplicate email on create, re-fetching", "email", email)
			u, err = r.refetch(ctx, email)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
	}
	if err := r.MarkVerified(ctx, u); err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return u, nil
}

func (r *Resolver) refetch(ctx context.Context, email string) (*model.User, error) {
	var u *model.User
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var err error
		u, err = r.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u == nil {
			return retry.RetryableError(fmt.Errorf("user %q not visible yet", email))
		}
		return nil
	})
	return u, err
}

// Deserialize is the inverse of Serialize.
func (r *Resolver) Deserialize(ctx context.Context, ref Ref) (*model.User, error) {
	u, err := r.users.GetByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUnknownUser
	}
	return u, nil
}
