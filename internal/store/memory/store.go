// Package memory implements the domain store interfaces in process memory.
// Transactions are serialised by a single mutex and applied copy-on-write:
// fn works on a private copy of the state that replaces the committed state
// only when fn succeeds. Intended for development and tests; the copy makes
// each transaction O(size of state).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

type state struct {
	markets  map[string]domain.Market
	bets     map[string]domain.Bet
	balances map[string]uint64
}

func newState() *state {
	return &state{
		markets:  make(map[string]domain.Market),
		bets:     make(map[string]domain.Bet),
		balances: make(map[string]uint64),
	}
}

func (s *state) clone() *state {
	out := &state{
		markets:  make(map[string]domain.Market, len(s.markets)),
		bets:     make(map[string]domain.Bet, len(s.bets)),
		balances: make(map[string]uint64, len(s.balances)),
	}
	for k, v := range s.markets {
		out.markets[k] = v
	}
	for k, v := range s.bets {
		out.bets[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	return out
}

// Store implements domain.Transactor over in-memory maps.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// WithinTx runs fn against a private copy of the state and commits the copy
// if fn returns nil. fn must not call WithinTx on the same Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}

	work := s.st.clone()
	if err := fn(ctx, &unitOfWork{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type unitOfWork struct {
	st *state
}

func (u *unitOfWork) Markets() domain.MarketStore { return &marketStore{st: u.st} }
func (u *unitOfWork) Bets() domain.BetStore       { return &betStore{st: u.st} }
func (u *unitOfWork) Ledger() domain.Ledger       { return &ledger{st: u.st} }

// marketStore implements domain.MarketStore on a transaction's state copy.
type marketStore struct {
	st *state
}

func (s *marketStore) Create(_ context.Context, m domain.Market) error {
	if _, ok := s.st.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.st.markets[m.ID] = m
	return nil
}

func (s *marketStore) Update(_ context.Context, m domain.Market) error {
	if _, ok := s.st.markets[m.ID]; !ok {
		return fmt.Errorf("memory: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	s.st.markets[m.ID] = m
	return nil
}

func (s *marketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// GetForUpdate is GetByID: the whole transaction already holds the store lock.
func (s *marketStore) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return s.GetByID(ctx, id)
}

func (s *marketStore) List(_ context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.st.markets {
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if filter.Authority != "" && m.Authority != filter.Authority {
			continue
		}
		if filter.Resolved != nil && m.Resolved != *filter.Resolved {
			continue
		}
		if !inWindow(m.CreatedAt, opts) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func (s *marketStore) ListExpiredOpen(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.st.markets {
		if m.BetOpen && !m.Resolved && now.After(m.CloseTime) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloseTime.Before(out[j].CloseTime) })
	return paginate(out, domain.ListOpts{Limit: limit}), nil
}

func (s *marketStore) ListResolvedBefore(_ context.Context, before time.Time, after domain.ResolvedCursor, limit int) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.st.markets {
		if m.Resolved && m.ResolvedAt != nil && m.ResolvedAt.Before(before) && after.Before(domain.CursorOf(m)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.CursorOf(out[i]).Before(domain.CursorOf(out[j])) })
	return paginate(out, domain.ListOpts{Limit: limit}), nil
}

func (s *marketStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.st.markets)), nil
}

// betStore implements domain.BetStore on a transaction's state copy.
type betStore struct {
	st *state
}

func (s *betStore) Create(_ context.Context, b domain.Bet) error {
	if _, ok := s.st.bets[b.ID]; ok {
		return fmt.Errorf("memory: create bet %s: %w", b.ID, domain.ErrBetExists)
	}
	for _, existing := range s.st.bets {
		if existing.Owner == b.Owner && existing.MarketID == b.MarketID {
			return fmt.Errorf("memory: create bet %s: %w", b.ID, domain.ErrBetExists)
		}
	}
	s.st.bets[b.ID] = b
	return nil
}

func (s *betStore) GetByID(_ context.Context, id string) (domain.Bet, error) {
	b, ok := s.st.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *betStore) GetForUpdate(ctx context.Context, id string) (domain.Bet, error) {
	return s.GetByID(ctx, id)
}

func (s *betStore) MarkClaimed(_ context.Context, id string, payout uint64, at time.Time) error {
	b, ok := s.st.bets[id]
	if !ok {
		return fmt.Errorf("memory: mark claimed %s: %w", id, domain.ErrNotFound)
	}
	if b.Claimed {
		return domain.ErrAlreadyClaimed
	}
	b.Claimed = true
	b.Payout = payout
	b.ClaimedAt = &at
	s.st.bets[id] = b
	return nil
}

func (s *betStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.filter(func(b domain.Bet) bool { return b.MarketID == marketID }, opts), nil
}

func (s *betStore) ListByOwner(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.filter(func(b domain.Bet) bool { return b.Owner == owner }, opts), nil
}

func (s *betStore) filter(keep func(domain.Bet) bool, opts domain.ListOpts) []domain.Bet {
	var out []domain.Bet
	for _, b := range s.st.bets {
		if keep(b) && inWindow(b.PlacedAt, opts) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return paginate(out, opts)
}

// ledger implements domain.Ledger on a transaction's state copy.
type ledger struct {
	st *state
}

func (l *ledger) Transfer(_ context.Context, from, to string, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	src := l.st.balances[from]
	if src < amount {
		return fmt.Errorf("memory: transfer %d from %s: %w", amount, from, domain.ErrInsufficientFunds)
	}
	dst := l.st.balances[to]
	if dst+amount < dst {
		return fmt.Errorf("memory: transfer %d to %s: %w", amount, to, domain.ErrOverflow)
	}
	l.st.balances[from] = src - amount
	l.st.balances[to] = dst + amount
	return nil
}

func (l *ledger) BalanceOf(_ context.Context, account string) (uint64, error) {
	return l.st.balances[account], nil
}

func (l *ledger) Deposit(_ context.Context, account string, amount uint64) error {
	cur := l.st.balances[account]
	if cur+amount < cur {
		return fmt.Errorf("memory: deposit %d to %s: %w", amount, account, domain.ErrOverflow)
	}
	l.st.balances[account] = cur + amount
	return nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.Transactor  = (*Store)(nil)
	_ domain.MarketStore = (*marketStore)(nil)
	_ domain.BetStore    = (*betStore)(nil)
	_ domain.Ledger      = (*ledger)(nil)
)
