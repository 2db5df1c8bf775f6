package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	events []string
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return n.err
}

func TestMemoryBusPatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	all, err := bus.Subscribe(ctx, "parimutuel:market:*")
	require.NoError(t, err)
	one, err := bus.Subscribe(ctx, MarketChannel("m1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, MarketChannel("m2"), []byte("x")))
	require.NoError(t, bus.Publish(ctx, MarketChannel("m1"), []byte("y")))

	assert.Equal(t, []byte("x"), <-all)
	assert.Equal(t, []byte("y"), <-all)
	assert.Equal(t, []byte("y"), <-one)

	cancel()
	_, open := <-one
	for open {
		_, open = <-one
	}
}

func TestMemoryBusStream(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "s", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)

	msgs, err = bus.StreamRead(ctx, "s", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, "s", "$", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPublisherFansOut(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	audit := memory.NewAuditStore()
	notifier := &recordingNotifier{err: errors.New("telegram down")}

	sub, err := bus.Subscribe(ctx, ChannelAll)
	require.NoError(t, err)

	p := NewPublisher(bus, audit, notifier, func(ev domain.Event) (string, string) {
		return string(ev.Type), ev.MarketID
	}, discardLogger())

	bet := domain.Bet{ID: "b1", Owner: "alice", MarketID: "m1", Amount: 30, Side: domain.SideYes}
	p.Publish(ctx, domain.Event{
		Type:       domain.EventBetPlaced,
		MarketID:   "m1",
		Bet:        &bet,
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	var got domain.Event
	require.NoError(t, json.Unmarshal(<-sub, &got))
	assert.Equal(t, domain.EventBetPlaced, got.Type)
	require.NotNil(t, got.Bet)
	assert.Equal(t, uint64(30), got.Bet.Amount)

	stream, err := bus.StreamRead(ctx, StreamAll, "0", 10)
	require.NoError(t, err)
	assert.Len(t, stream, 1)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bet_placed", entries[0].Event)
	assert.Equal(t, "b1", entries[0].Detail["bet_id"])

	assert.Equal(t, []string{"bet_placed"}, notifier.events)
}

func TestPublisherToleratesNilSinks(t *testing.T) {
	p := NewPublisher(nil, nil, nil, nil, discardLogger())
	p.Publish(context.Background(), domain.Event{Type: domain.EventMarketCreated, MarketID: "m"})
}
