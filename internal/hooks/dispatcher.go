// Package hooks runs side effects after a successful sign-in.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
)

// Hook is a post-sign-in side effect keyed by the signed-in user.
type Hook struct {
	Name string
	Run  func(ctx context.Context, userID int64) error
}

// Dispatcher runs hooks in registration order. The user is already signed
// in when it runs, so a failing hook is logged and the remaining hooks still
// run.
type Dispatcher struct {
	hooks  []Hook
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger, hooks ...Hook) *Dispatcher {
	return &Dispatcher{hooks: hooks, logger: logger}
}

func (d *Dispatcher) Register(h Hook) {
	d.hooks = append(d.hooks, h)
}

// Run executes every hook and returns how many failed.
func (d *Dispatcher) Run(ctx context.Context, userID int64) int {
	failed := 0
	for _, h := range d.hooks {
		if err := d.runOne(ctx, h, userID); err != nil {
			failed++
			d.logger.Error("signin hook failed", "hook", h.Name, "user_id", userID, "error", err)
		}
	}
	return failed
}

func (d *Dispatcher) runOne(ctx context.Context, h Hook, userID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(ctx, userID)
}
