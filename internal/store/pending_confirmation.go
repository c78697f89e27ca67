package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/linkauth/internal/model"
)

type PendingConfirmationStore struct {
	db *sql.DB
}

func NewPendingConfirmationStore(db *sql.DB) *PendingConfirmationStore {
	return &PendingConfirmationStore{db: db}
}

func scanPendingConfirmation(scanner interface{ Scan(...any) error }) (*model.PendingConfirmation, error) {
	var pc model.PendingConfirmation
	var userID sql.NullInt64
	var confirmedAt sql.NullTime

	err := scanner.Scan(&pc.ID, &pc.Email, &pc.Kind, &pc.Reference, &userID, &confirmedAt, &pc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		pc.UserID = &userID.Int64
	}
	if confirmedAt.Valid {
		pc.ConfirmedAt = &confirmedAt.Time
	}
	return &pc, nil
}

const pendingConfirmationCols = `id, email, kind, reference, user_id, confirmed_at, created_at`

func (s *PendingConfirmationStore) Create(ctx context.Context, email, kind, reference string) (*model.PendingConfirmation, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_confirmations (email, kind, reference) VALUES (?, ?, ?)`,
		email, kind, reference,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pending confirmation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *PendingConfirmationStore) GetByID(ctx context.Context, id int64) (*model.PendingConfirmation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingConfirmationCols+` FROM pending_confirmations WHERE id = ?`, id)
	pc, err := scanPendingConfirmation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending confirmation: %w", err)
	}
	return pc, nil
}

// ListUnconfirmedByEmail returns the open confirmations for email, oldest first.
func (s *PendingConfirmationStore) ListUnconfirmedByEmail(ctx context.Context, email string) ([]model.PendingConfirmation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pendingConfirmationCols+` FROM pending_confirmations WHERE email = ? AND confirmed_at IS NULL ORDER BY created_at, id`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []model.PendingConfirmation
	for rows.Next() {
		pc, err := scanPendingConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending confirmation: %w", err)
		}
		out = append(out, *pc)
	}
	return out, rows.Err()
}

// Confirm attaches userID and stamps confirmed_at. It reports false when the
// confirmation was already confirmed, e.g. by a concurrent sign-in.
func (s *PendingConfirmationStore) Confirm(ctx context.Context, id, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_confirmations SET user_id = ?, confirmed_at = datetime('now') WHERE id = ? AND confirmed_at IS NULL`,
		userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("confirm pending confirmation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
