package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/metrics"
)

const archiveLockKey = "parimutuel:archiver"

// ArchiveJob exports markets resolved longer ago than the retention window.
type ArchiveJob struct {
	archiver  domain.Archiver
	locks     domain.LockManager
	clock     domain.Clock
	retention time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	after     func(time.Duration) <-chan time.Time
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, locks domain.LockManager, clock domain.Clock, retention time.Duration, m *metrics.Metrics, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:  archiver,
		locks:     locks,
		clock:     clock,
		retention: retention,
		metrics:   m,
		logger:    logger.With(slog.String("component", "archiver")),
		after:     time.After,
	}
}

// RunOnce archives everything resolved before now minus the retention
// window and returns the number of reports written.
func (j *ArchiveJob) RunOnce(ctx context.Context) (int64, error) {
	unlock, err := j.locks.Acquire(ctx, archiveLockKey, time.Hour)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return 0, nil
		}
		return 0, fmt.Errorf("archive_job: acquire lock: %w", err)
	}
	defer unlock()

	cutoff := j.clock.Now().Add(-j.retention)
	j.logger.InfoContext(ctx, "archive run started", slog.Time("cutoff", cutoff))

	n, err := j.archiver.ArchiveSettled(ctx, cutoff)
	j.metrics.Archived(n)
	if err != nil {
		return n, fmt.Errorf("archive_job: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger.InfoContext(ctx, "archive run complete", slog.Int64("archived", n))
	return n, nil
}

// RunCron runs RunOnce on the given five-field cron schedule until ctx is
// cancelled.
func (j *ArchiveJob) RunCron(ctx context.Context, expr string) error {
	spec, err := parseCronSpec(expr)
	if err != nil {
		return fmt.Errorf("archive_job: %w", err)
	}
	j.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))

	for ctx.Err() == nil {
		now := j.clock.Now().UTC()
		next, err := spec.next(now)
		if err != nil {
			return fmt.Errorf("archive_job: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.after(next.Sub(now)):
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
	return ctx.Err()
}
