package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired sessions. Stores that expire entries
// on their own report zero and are harmless to sweep.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes expired sessions once and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep expired sessions", "error", err)
		}
		return 0
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", "count", n)
	}
	return n
}
