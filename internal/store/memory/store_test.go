package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return uow.Ledger().Deposit(ctx, "alice", 100)
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := uow.Ledger().Transfer(ctx, "alice", "bob", 60); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		a, _ := uow.Ledger().BalanceOf(ctx, "alice")
		b, _ := uow.Ledger().BalanceOf(ctx, "bob")
		assert.Equal(t, uint64(100), a)
		assert.Equal(t, uint64(0), b)
		return nil
	}))
}

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		l := uow.Ledger()
		require.NoError(t, l.Deposit(ctx, "alice", 10))
		assert.ErrorIs(t, l.Transfer(ctx, "alice", "bob", 11), domain.ErrInsufficientFunds)
		require.NoError(t, l.Transfer(ctx, "alice", "bob", 10))

		require.NoError(t, l.Deposit(ctx, "carol", ^uint64(0)))
		assert.ErrorIs(t, l.Transfer(ctx, "bob", "carol", 1), domain.ErrOverflow)
		return nil
	})
	require.NoError(t, err)
}

func TestBetStoreUniquePerOwnerMarket(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		bets := uow.Bets()
		b := domain.Bet{ID: domain.BetID("alice", "m1"), Owner: "alice", MarketID: "m1", Amount: 5}
		require.NoError(t, bets.Create(ctx, b))
		assert.ErrorIs(t, bets.Create(ctx, b), domain.ErrBetExists)

		now := time.Now()
		require.NoError(t, bets.MarkClaimed(ctx, b.ID, 9, now))
		assert.ErrorIs(t, bets.MarkClaimed(ctx, b.ID, 9, now), domain.ErrAlreadyClaimed)

		got, err := bets.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, got.Claimed)
		assert.Equal(t, uint64(9), got.Payout)
		return nil
	})
	require.NoError(t, err)
}

func TestMarketListing(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	resolvedAt := base.Add(2 * time.Hour)

	err := s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		ms := uow.Markets()
		require.NoError(t, ms.Create(ctx, domain.Market{ID: "a", Category: "sports", CreatedAt: base, CloseTime: base.Add(time.Hour), BetOpen: true}))
		require.NoError(t, ms.Create(ctx, domain.Market{ID: "b", Category: "crypto", CreatedAt: base.Add(time.Minute), CloseTime: base.Add(3 * time.Hour), BetOpen: true}))
		require.NoError(t, ms.Create(ctx, domain.Market{ID: "c", Category: "sports", CreatedAt: base.Add(2 * time.Minute), CloseTime: base.Add(time.Hour), Resolved: true, ResolvedAt: &resolvedAt}))
		return nil
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		ms := uow.Markets()

		sports, err := ms.List(ctx, domain.MarketFilter{Category: "sports"}, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, sports, 2)
		assert.Equal(t, "c", sports[0].ID)

		expired, err := ms.ListExpiredOpen(ctx, base.Add(2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "a", expired[0].ID)

		resolved, err := ms.ListResolvedBefore(ctx, base.Add(3*time.Hour), domain.ResolvedCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, "c", resolved[0].ID)

		past, err := ms.ListResolvedBefore(ctx, base.Add(3*time.Hour), domain.CursorOf(resolved[0]), 10)
		require.NoError(t, err)
		assert.Empty(t, past, "cursor excludes markets already seen")

		page, err := ms.List(ctx, domain.MarketFilter{}, domain.ListOpts{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "b", page[0].ID)
		return nil
	})
	require.NoError(t, err)
}
