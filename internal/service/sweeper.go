package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const sweeperLockKey = "parimutuel:sweeper"

// Sweeper clears the betting flag on markets whose close time has passed so
// that listings and events reflect the closure without waiting for a late
// bet. Only one replica sweeps per tick.
type Sweeper struct {
	betting  *BettingService
	locks    domain.LockManager
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper that runs every interval, closing at most
// batch markets per transaction.
func NewSweeper(betting *BettingService, locks domain.LockManager, interval time.Duration, batch int, logger *slog.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		betting:  betting,
		locks:    locks,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "sweep closed markets", slog.Int("count", n))
			}
		}
	}
}

// Sweep performs one pass and returns how many markets it closed. It returns
// zero without error when another replica holds the sweep lock.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	unlock, err := s.locks.Acquire(ctx, sweeperLockKey, s.interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweep lock held elsewhere")
			return 0, nil
		}
		return 0, fmt.Errorf("sweeper: acquire lock: %w", err)
	}
	defer unlock()

	total := 0
	for {
		closed, err := s.betting.CloseExpired(ctx, s.batch)
		if err != nil {
			return total, fmt.Errorf("sweeper: %w", err)
		}
		total += len(closed)
		if len(closed) < s.batch {
			return total, nil
		}
	}
}
