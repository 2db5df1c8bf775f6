package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is the outcome a bet is placed on. Yes is true.
type Side bool

const (
	SideYes Side = true
	SideNo  Side = false
)

// String returns "yes" or "no".
func (s Side) String() string {
	if s {
		return "yes"
	}
	return "no"
}

// ParseSide converts "yes"/"no" (case-sensitive) into a Side.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "yes":
		return SideYes, true
	case "no":
		return SideNo, true
	default:
		return SideNo, false
	}
}

// MarshalText encodes the side as "yes" or "no".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts "yes" or "no".
func (s *Side) UnmarshalText(b []byte) error {
	v, ok := ParseSide(string(b))
	if !ok {
		return fmt.Errorf("domain: invalid side %q", b)
	}
	*s = v
	return nil
}

// Phase is the lifecycle state of a market.
type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseClosed   Phase = "closed"
	PhaseResolved Phase = "resolved"
)

// Market is a single yes/no question with two value pools held by the ledger.
type Market struct {
	ID             string     `json:"id"`
	Authority      string     `json:"authority"`
	Question       string     `json:"question"`
	Category       string     `json:"category"`
	CreatedAt      time.Time  `json:"created_at"`
	CloseTime      time.Time  `json:"close_time"`
	TotalYes       uint64     `json:"total_yes"`
	TotalNo        uint64     `json:"total_no"`
	BetOpen        bool       `json:"bet_open"`
	Resolved       bool       `json:"resolved"`
	WinningOutcome Side       `json:"winning_outcome"`
	FeeCollected   uint64     `json:"fee_collected"`
	// SettlementPool is the losing pool balance right after the fee was
	// taken. Every claim computes its share against this value.
	SettlementPool uint64     `json:"settlement_pool"`
	PaidOut        uint64     `json:"paid_out"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewMarketID returns a fresh random market identifier.
func NewMarketID() string {
	return uuid.NewString()
}

// Phase derives the lifecycle state from the resolution flag, the cached
// betting flag and the wall clock. It never reads state other than its
// arguments, so callers re-evaluate it at every entry point.
func (m Market) Phase(now time.Time) Phase {
	switch {
	case m.Resolved:
		return PhaseResolved
	case !m.BetOpen || now.After(m.CloseTime):
		return PhaseClosed
	default:
		return PhaseOpen
	}
}

// TotalStaked is the sum of both side totals. The second return value is
// false when the sum does not fit in a uint64.
func (m Market) TotalStaked() (uint64, bool) {
	sum := m.TotalYes + m.TotalNo
	return sum, sum >= m.TotalYes
}

// TotalFor returns the cumulative stake on one side.
func (m Market) TotalFor(side Side) uint64 {
	if side == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// PoolAccount returns the ledger account that holds one side's stake.
func (m Market) PoolAccount(side Side) string {
	return PoolAccount(m.ID, side)
}

// PoolAccount returns the ledger account name for a market side pool.
func PoolAccount(marketID string, side Side) string {
	return "market:" + marketID + ":" + side.String()
}

// CloseSpec describes when betting closes: either an absolute time or a
// duration measured from creation. At wins when both are set.
type CloseSpec struct {
	At       time.Time
	Duration time.Duration
}

// Resolve returns the concrete close time for a market created at now.
func (c CloseSpec) Resolve(now time.Time) time.Time {
	if !c.At.IsZero() {
		return c.At
	}
	return now.Add(c.Duration)
}

// SetTotal overwrites the cumulative stake on one side.
func (m *Market) SetTotal(side Side, v uint64) {
	if side == SideYes {
		m.TotalYes = v
		return
	}
	m.TotalNo = v
}
