package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingConfirmation is an action recorded for an email address before the
// owner signed in. It is confirmed once the address is proven.
type PendingConfirmation struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Kind        string     `json:"kind"`
	Reference   string     `json:"reference"`
	UserID      *int64     `json:"user_id"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}
