package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

type stubSender struct {
	name  string
	err   error
	calls []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.calls = append(s.calls, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFilter(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{" market_resolved ", ""}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "bet_placed", "ignored", ""))
	require.NoError(t, n.Notify(ctx, "market_resolved", "resolved", ""))
	require.NoError(t, n.NotifyAll(ctx, "forced", ""))
	assert.Equal(t, []string{"resolved", "forced"}, s.calls)
}

func TestNotifierCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Len(t, good.calls, 1, "later senders still run")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Market resolved", "a < b"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>Market resolved</b>\na &lt; b", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len([]rune(body["content"].(string))) > discordContentLimit {
			http.Error(w, "too long", http.StatusBadRequest)
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", strings.Repeat("x", 5000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestFormatter(t *testing.T) {
	f := NewFormatter(6, "USDC")
	assert.Equal(t, "2.5 USDC", f.Amount(2_500_000))
	assert.Equal(t, "18446744073709.551615 USDC", f.Amount(^uint64(0)))
	assert.Equal(t, "7", NewFormatter(0, "").Amount(7))

	m := &domain.Market{
		ID:             "m1",
		Question:       "Will it rain?",
		WinningOutcome: domain.SideNo,
		SettlementPool: 80_000_000,
		CloseTime:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	title, body := f.Format(domain.Event{Type: domain.EventMarketResolved, MarketID: "m1", Market: m, Fee: 20_000_000})
	assert.Equal(t, "Market resolved", title)
	assert.Equal(t, "Will it rain?\nOutcome: no, fee 20 USDC, pool 80 USDC", body)

	title, body = f.Format(domain.Event{
		Type:     domain.EventBetPlaced,
		MarketID: "m1",
		Market:   m,
		Bet:      &domain.Bet{Owner: "0xabc", Amount: 1_000_000, Side: domain.SideYes},
	})
	assert.Equal(t, "Bet placed", title)
	assert.Equal(t, "Will it rain?\n1 USDC on yes by 0xabc", body)

	_, body = f.Format(domain.Event{Type: domain.EventMarketCreated, MarketID: "m1", Market: m})
	assert.Contains(t, body, "2026-03-01 12:00 UTC")

	_, body = f.Format(domain.Event{Type: domain.EventWinningsClaimed, MarketID: "m2", Payout: 3})
	assert.Equal(t, "m2\nPaid 0.000003 USDC", body)
}
