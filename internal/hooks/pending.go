package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/linkauth/internal/i18n"
	"github.com/dukerupert/linkauth/internal/model"
)

type userGetter interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type pendingConfirmations interface {
	ListUnconfirmedByEmail(ctx context.Context, email string) ([]model.PendingConfirmation, error)
	Confirm(ctx context.Context, id, userID int64) (bool, error)
}

// Notifier delivers a plain message to an address.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// PendingConfirmations confirms the actions recorded for the user's email
// before the account existed and notifies the user about each of them.
func PendingConfirmations(users userGetter, pending pendingConfirmations, notifier Notifier, t i18n.Formatter, logger *slog.Logger) Hook {
	return Hook{
		Name: "pending_confirmations",
		Run: func(ctx context.Context, userID int64) error {
			u, err := users.GetByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			if u == nil {
				return fmt.Errorf("user %d not found", userID)
			}

			open, err := pending.ListUnconfirmedByEmail(ctx, u.Email)
			if err != nil {
				return err
			}

			var errs []error
			for _, pc := range open {
				ok, err := pending.Confirm(ctx, pc.ID, u.ID)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if !ok {
					// confirmed by a concurrent sign-in
					continue
				}
				logger.Info("pending confirmation confirmed", "id", pc.ID, "kind", pc.Kind, "user_id", u.ID)

				vars := map[string]string{"email": u.Email, "kind": pc.Kind, "reference": pc.Reference}
				subject := t.T("api/confirmation/mail/subject", vars)
				body := t.T("api/confirmation/mail/body", vars)
				if err := notifier.Notify(ctx, u.Email, subject, body); err != nil {
					errs = append(errs, fmt.Errorf("notify confirmation %d: %w", pc.ID, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}
