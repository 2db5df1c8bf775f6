package domain

import (
	"context"
	"time"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventBettingClosed   EventType = "betting_closed"
	EventMarketResolved  EventType = "market_resolved"
	EventWinningsClaimed EventType = "winnings_claimed"
)

// Event is a non-authoritative notification emitted after a state change
// commits. Consumers must not rely on delivery for correctness.
type Event struct {
	Type       EventType `json:"type"`
	MarketID   string    `json:"market_id"`
	Market     *Market   `json:"market,omitempty"`
	Bet        *Bet      `json:"bet,omitempty"`
	Fee        uint64    `json:"fee,omitempty"`
	Payout     uint64    `json:"payout,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher delivers events on a best-effort basis.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Clock is the time source for lifecycle checks.
type Clock interface {
	Now() time.Time
}

// Caller is an identity claim attached to a request: an address plus a
// signature over Message made with that address's key.
type Caller struct {
	Address   string
	Message   []byte
	Signature []byte
}

// Identity verifies that a caller controls the address it claims. Verify
// returns ErrUnauthorized when the proof does not hold.
type Identity interface {
	Verify(ctx context.Context, caller Caller) error
}
