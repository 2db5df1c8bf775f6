package domain

import (
	"time"

	"github.com/google/uuid"
)

// betNamespace scopes the name-based UUIDs used as bet identifiers.
var betNamespace = uuid.MustParse("6f1c0b7e-3d2a-5b8e-9c41-2a7f0d5e8b13")

// Bet is one participant's stake on one side of a market. There is at most
// one bet per (owner, market) pair.
type Bet struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	MarketID  string     `json:"market_id"`
	Amount    uint64     `json:"amount"`
	Side      Side       `json:"side"`
	Claimed   bool       `json:"claimed"`
	Payout    uint64     `json:"payout"`
	PlacedAt  time.Time  `json:"placed_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// BetID derives the bet identifier for an (owner, market) pair. The same
// pair always maps to the same ID, so the identifier doubles as the
// uniqueness key.
func BetID(owner, marketID string) string {
	return uuid.NewSHA1(betNamespace, []byte(owner+"|"+marketID)).String()
}
