package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

func TestSweeperClosesInBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.market(t, "auth")
	}
	f.clock.Advance(2 * time.Hour)

	locks := memory.NewLockManager()
	sw := NewSweeper(f.svc, locks, time.Minute, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	markets, err := f.svc.ListMarkets(ctx, domain.MarketFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	for _, m := range markets {
		assert.False(t, m.BetOpen)
	}
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.market(t, "auth")
	f.clock.Advance(2 * time.Hour)

	locks := memory.NewLockManager()
	unlock, err := locks.Acquire(context.Background(), sweeperLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	sw := NewSweeper(f.svc, locks, time.Minute, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type recordingArchiver struct {
	cutoffs []time.Time
}

func (a *recordingArchiver) ArchiveSettled(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return 3, nil
}

func TestArchiveJobUsesRetention(t *testing.T) {
	clk := clock.NewManual(testStart)
	arch := &recordingArchiver{}
	job := NewArchiveJob(arch, memory.NewLockManager(), clk, 72*time.Hour, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, arch.cutoffs, 1)
	assert.Equal(t, testStart.Add(-72*time.Hour), arch.cutoffs[0])
}

type cancelingArchiver struct {
	cutoffs []time.Time
	cancel  context.CancelFunc
}

func (a *cancelingArchiver) ArchiveSettled(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	if len(a.cutoffs) == 2 {
		a.cancel()
	}
	return 1, nil
}

func TestArchiveJobCronFollowsClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 2, 59, 30, 0, time.UTC)
	clk := clock.NewManual(start)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arch := &cancelingArchiver{cancel: cancel}
	job := NewArchiveJob(arch, memory.NewLockManager(), clk, 24*time.Hour, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	var waits []time.Duration
	job.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		clk.Advance(d)
		ch := make(chan time.Time, 1)
		ch <- clk.Now()
		return ch
	}

	err := job.RunCron(ctx, "0 3 * * *")
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{30 * time.Second, 24 * time.Hour}, waits)
	require.Len(t, arch.cutoffs, 2)
	assert.Equal(t, time.Date(2026, 2, 28, 3, 0, 0, 0, time.UTC), arch.cutoffs[0])
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), arch.cutoffs[1])
}

func TestCronSpec(t *testing.T) {
	spec, err := parseCronSpec("*/15 3 1-7 * 1")
	require.NoError(t, err)

	// 2026-03-02 is a Monday.
	after := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	next, err := spec.next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)

	next, err = spec.next(next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 15, 0, 0, time.UTC), next)

	for _, bad := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "5-2 * * * *", "x * * * *"} {
		_, err := parseCronSpec(bad)
		assert.Error(t, err, bad)
	}
}
