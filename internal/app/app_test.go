package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/config"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireMemoryFallbacks(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.IsType(t, &memory.Store{}, deps.Transactor)
	assert.IsType(t, &memory.LockManager{}, deps.LockManager)
	assert.IsType(t, &events.MemoryBus{}, deps.SignalBus)
	assert.IsType(t, &middleware.LocalLimiter{}, deps.RateLimiter)
	assert.Nil(t, deps.MarketCache)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)

	got := deps.Betting.Config()
	assert.Equal(t, uint64(2000), got.FeeBps)
	assert.Equal(t, 400, got.MaxQuestionLen)
}

func TestBettingConfigFromMarketSection(t *testing.T) {
	got := bettingConfig(config.MarketConfig{
		MinQuestionLen:       5,
		MaxQuestionLen:       50,
		MinBet:               10,
		MaxBet:               100,
		FeeBps:               0,
		AllowEarlyResolution: true,
	})
	assert.Equal(t, 5, got.MinQuestionLen)
	assert.Equal(t, 50, got.MaxQuestionLen)
	assert.Equal(t, uint64(10), got.MinBet)
	assert.Equal(t, uint64(100), got.MaxBet)
	assert.Zero(t, got.FeeBps)
	assert.True(t, got.AllowEarlyResolution)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"

	a := New(&cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
}

func TestFullModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Port = 0

	a := New(&cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("full mode did not stop after cancel")
	}
}
