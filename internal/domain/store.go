package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows ListMarkets results.
type MarketFilter struct {
	Category  string
	Authority string
	// Resolved filters by resolution state when non-nil.
	Resolved *bool
}

// MarketStore persists markets. Inside a transaction GetForUpdate locks the
// row until commit or rollback.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	Update(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetForUpdate(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, filter MarketFilter, opts ListOpts) ([]Market, error)
	// ListExpiredOpen returns markets whose betting flag is still set but
	// whose close time is before now.
	ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]Market, error)
	// ListResolvedBefore returns markets resolved strictly before the cutoff
	// and positioned after the cursor, in (resolved_at, id) order.
	ListResolvedBefore(ctx context.Context, before time.Time, after ResolvedCursor, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// ResolvedCursor is a keyset position in (resolved_at, id) order. The zero
// value starts before the first resolved market.
type ResolvedCursor struct {
	ResolvedAt time.Time `json:"resolved_at"`
	ID         string    `json:"id"`
}

// CursorOf returns the position of a resolved market.
func CursorOf(m Market) ResolvedCursor {
	c := ResolvedCursor{ID: m.ID}
	if m.ResolvedAt != nil {
		c.ResolvedAt = *m.ResolvedAt
	}
	return c
}

// Before reports whether c sorts strictly before o.
func (c ResolvedCursor) Before(o ResolvedCursor) bool {
	if !c.ResolvedAt.Equal(o.ResolvedAt) {
		return c.ResolvedAt.Before(o.ResolvedAt)
	}
	return c.ID < o.ID
}

// BetStore persists bets. Create returns ErrBetExists when the owner already
// has a bet on the market.
type BetStore interface {
	Create(ctx context.Context, bet Bet) error
	GetByID(ctx context.Context, id string) (Bet, error)
	GetForUpdate(ctx context.Context, id string) (Bet, error)
	// MarkClaimed flips the claimed flag from false to true and records the
	// payout. It returns ErrAlreadyClaimed if the flag was already set.
	MarkClaimed(ctx context.Context, id string, payout uint64, at time.Time) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Bet, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Bet, error)
}

// Ledger holds named balances and moves value between them atomically.
type Ledger interface {
	// Transfer moves amount from one account to another. It returns
	// ErrInsufficientFunds when the source balance is too small and
	// ErrOverflow when the destination would exceed the representable range.
	Transfer(ctx context.Context, from, to string, amount uint64) error
	BalanceOf(ctx context.Context, account string) (uint64, error)
	// Deposit credits an account from outside the ledger (faucet / funding).
	Deposit(ctx context.Context, account string, amount uint64) error
}

// UnitOfWork exposes the stores bound to a single transaction.
type UnitOfWork interface {
	Markets() MarketStore
	Bets() BetStore
	Ledger() Ledger
}

// Transactor runs fn inside one transaction. Every store mutation and
// ledger movement made through uow commits together when fn returns nil and
// is rolled back entirely otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
