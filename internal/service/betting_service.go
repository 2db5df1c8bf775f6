package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/metrics"
	"github.com/alanyoungcy/parimutuel/internal/settlement"
)

// BettingConfig holds the market and settlement policy.
type BettingConfig struct {
	MinQuestionLen int
	MaxQuestionLen int
	MinBet         uint64
	MaxBet         uint64
	// FeeBps is the fee taken from the losing pool at resolution, in basis
	// points. Zero disables the fee.
	FeeBps               uint64
	AllowEarlyResolution bool
}

// DefaultBettingConfig returns the stock policy: questions of 20..400 code
// points, bets of 1..10e9 base units and a 20% fee.
func DefaultBettingConfig() BettingConfig {
	return BettingConfig{
		MinQuestionLen: 20,
		MaxQuestionLen: 400,
		MinBet:         1,
		MaxBet:         10_000_000_000,
		FeeBps:         2000,
	}
}

// CreateMarketRequest carries the caller-supplied market fields.
type CreateMarketRequest struct {
	Question string
	Close    domain.CloseSpec
	Category string
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Bet   domain.Bet
	Claim settlement.Claim
}

// BettingService runs the market lifecycle and settlement inside store
// transactions. Events, cache updates and metrics happen only after commit.
type BettingService struct {
	tx       domain.Transactor
	identity domain.Identity
	events   domain.EventPublisher
	clock    domain.Clock
	cache    domain.MarketCache
	metrics  *metrics.Metrics
	cfg      BettingConfig
	logger   *slog.Logger
}

// NewBettingService creates a BettingService with all required dependencies.
func NewBettingService(
	tx domain.Transactor,
	identity domain.Identity,
	events domain.EventPublisher,
	clock domain.Clock,
	cfg BettingConfig,
	logger *slog.Logger,
) *BettingService {
	return &BettingService{
		tx:       tx,
		identity: identity,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithCache attaches a read-through market cache. Without one, GetMarket
// always reads the store.
func (s *BettingService) WithCache(cache domain.MarketCache) *BettingService {
	s.cache = cache
	return s
}

// WithMetrics attaches Prometheus counters.
func (s *BettingService) WithMetrics(m *metrics.Metrics) *BettingService {
	s.metrics = m
	return s
}

// Config returns the active policy.
func (s *BettingService) Config() BettingConfig {
	return s.cfg
}

// CreateMarket opens a new market owned by the caller.
func (s *BettingService) CreateMarket(ctx context.Context, caller domain.Caller, req CreateMarketRequest) (domain.Market, error) {
	if err := s.verify(ctx, caller); err != nil {
		return domain.Market{}, s.fail("create_market", err)
	}

	n := utf8.RuneCountInString(req.Question)
	if n < s.cfg.MinQuestionLen || n > s.cfg.MaxQuestionLen {
		return domain.Market{}, s.fail("create_market", fmt.Errorf(
			"betting_service: question has %d code points, want %d..%d: %w",
			n, s.cfg.MinQuestionLen, s.cfg.MaxQuestionLen, domain.ErrInvalidQuestionLength))
	}

	now := s.clock.Now()
	closeAt := req.Close.Resolve(now)
	if !closeAt.After(now) {
		return domain.Market{}, s.fail("create_market", fmt.Errorf(
			"betting_service: close %s not after %s: %w",
			closeAt.Format(time.RFC3339), now.Format(time.RFC3339), domain.ErrInvalidCloseTime))
	}

	market := domain.Market{
		ID:        domain.NewMarketID(),
		Authority: caller.Address,
		Question:  req.Question,
		Category:  req.Category,
		CreatedAt: now,
		CloseTime: closeAt,
		BetOpen:   true,
		UpdatedAt: now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return uow.Markets().Create(ctx, market)
	})
	if err != nil {
		return domain.Market{}, s.fail("create_market", fmt.Errorf("betting_service: create market: %w", err))
	}

	s.logger.InfoContext(ctx, "betting_service: market created",
		slog.String("market_id", market.ID),
		slog.String("authority", market.Authority),
		slog.String("close_time", market.CloseTime.Format(time.RFC3339)),
	)
	s.metrics.Op("create_market", "ok")
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketCreated,
		MarketID:   market.ID,
		Market:     &market,
		OccurredAt: now,
	})
	return market, nil
}

// PlaceBet stakes amount from the caller's balance on one side of a market.
// The first bet attempted after the close time clears the market's betting
// flag; that change commits even though the bet itself is refused with
// ErrBettingClosed.
func (s *BettingService) PlaceBet(ctx context.Context, caller domain.Caller, marketID string, amount uint64, side domain.Side) (domain.Bet, error) {
	if err := s.verify(ctx, caller); err != nil {
		return domain.Bet{}, s.fail("place_bet", err)
	}

	now := s.clock.Now()
	var (
		bet        domain.Bet
		market     domain.Market
		closedLate bool
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		m, err := uow.Markets().GetForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("get market %s: %w", marketID, err)
		}

		if m.Phase(now) != domain.PhaseOpen {
			if m.BetOpen && !m.Resolved {
				m.BetOpen = false
				m.UpdatedAt = now
				if err := uow.Markets().Update(ctx, m); err != nil {
					return fmt.Errorf("close market %s: %w", m.ID, err)
				}
				market = m
				closedLate = true
				return nil
			}
			return domain.ErrBettingClosed
		}

		if amount < s.cfg.MinBet || amount > s.cfg.MaxBet {
			return fmt.Errorf("amount %d outside %d..%d: %w",
				amount, s.cfg.MinBet, s.cfg.MaxBet, domain.ErrBetAmountInvalid)
		}

		sideTotal, err := settlement.Add(m.TotalFor(side), amount)
		if err != nil {
			return err
		}
		m.SetTotal(side, sideTotal)
		if _, ok := m.TotalStaked(); !ok {
			return fmt.Errorf("market %s total stake: %w", m.ID, domain.ErrOverflow)
		}

		bet = domain.Bet{
			ID:       domain.BetID(caller.Address, m.ID),
			Owner:    caller.Address,
			MarketID: m.ID,
			Amount:   amount,
			Side:     side,
			PlacedAt: now,
		}
		if err := uow.Bets().Create(ctx, bet); err != nil {
			return err
		}
		if err := uow.Ledger().Transfer(ctx, caller.Address, m.PoolAccount(side), amount); err != nil {
			return fmt.Errorf("stake transfer: %w", err)
		}

		m.UpdatedAt = now
		if err := uow.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("update market %s: %w", m.ID, err)
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Bet{}, s.fail("place_bet", fmt.Errorf("betting_service: place bet: %w", err))
	}

	if closedLate {
		s.logger.InfoContext(ctx, "betting_service: betting closed on late bet",
			slog.String("market_id", market.ID),
			slog.String("caller", caller.Address),
		)
		s.invalidate(ctx, market.ID)
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventBettingClosed,
			MarketID:   market.ID,
			Market:     &market,
			OccurredAt: now,
		})
		return domain.Bet{}, s.fail("place_bet", fmt.Errorf("betting_service: place bet: %w", domain.ErrBettingClosed))
	}

	s.logger.InfoContext(ctx, "betting_service: bet placed",
		slog.String("market_id", market.ID),
		slog.String("bet_id", bet.ID),
		slog.String("side", side.String()),
		slog.Uint64("amount", amount),
	)
	s.metrics.Op("place_bet", "ok")
	s.metrics.Stake(side.String(), amount)
	s.invalidate(ctx, market.ID)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventBetPlaced,
		MarketID:   market.ID,
		Market:     &market,
		Bet:        &bet,
		OccurredAt: now,
	})
	return bet, nil
}

// ResolveMarket records the winning outcome and moves the fee from the
// losing pool to the market authority.
func (s *BettingService) ResolveMarket(ctx context.Context, caller domain.Caller, marketID string, outcome domain.Side) (domain.Market, error) {
	if err := s.verify(ctx, caller); err != nil {
		return domain.Market{}, s.fail("resolve_market", err)
	}

	now := s.clock.Now()
	var market domain.Market

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		m, err := uow.Markets().GetForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("get market %s: %w", marketID, err)
		}
		if caller.Address != m.Authority {
			return domain.ErrUnauthorized
		}
		if m.Resolved {
			return domain.ErrAlreadyResolved
		}
		if !s.cfg.AllowEarlyResolution && now.Before(m.CloseTime) {
			return domain.ErrMarketNotClosed
		}

		_, loser := settlement.SidePools(outcome)
		losingAccount := m.PoolAccount(loser)
		losing, err := uow.Ledger().BalanceOf(ctx, losingAccount)
		if err != nil {
			return fmt.Errorf("losing pool balance: %w", err)
		}
		fee, err := settlement.Fee(losing, s.cfg.FeeBps)
		if err != nil {
			return err
		}
		pool, err := settlement.Sub(losing, fee)
		if err != nil {
			return err
		}
		if err := uow.Ledger().Transfer(ctx, losingAccount, m.Authority, fee); err != nil {
			return poolDebitError(err)
		}

		m.Resolved = true
		m.WinningOutcome = outcome
		m.BetOpen = false
		m.FeeCollected = fee
		m.SettlementPool = pool
		m.ResolvedAt = &now
		m.UpdatedAt = now
		if err := uow.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("update market %s: %w", m.ID, err)
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Market{}, s.fail("resolve_market", fmt.Errorf("betting_service: resolve market: %w", err))
	}

	s.logger.InfoContext(ctx, "betting_service: market resolved",
		slog.String("market_id", market.ID),
		slog.String("outcome", outcome.String()),
		slog.Uint64("fee", market.FeeCollected),
		slog.Uint64("settlement_pool", market.SettlementPool),
	)
	s.metrics.Op("resolve_market", "ok")
	s.metrics.Fee(market.FeeCollected)
	s.invalidate(ctx, market.ID)
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventMarketResolved,
		MarketID:   market.ID,
		Market:     &market,
		Fee:        market.FeeCollected,
		OccurredAt: now,
	})
	return market, nil
}

// ClaimWinnings pays a winning bet its stake plus its share of the
// settlement pool. A bet is paid at most once.
func (s *BettingService) ClaimWinnings(ctx context.Context, caller domain.Caller, marketID, betID string) (ClaimResult, error) {
	if err := s.verify(ctx, caller); err != nil {
		return ClaimResult{}, s.fail("claim_winnings", err)
	}

	now := s.clock.Now()
	var (
		result ClaimResult
		market domain.Market
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		b, err := uow.Bets().GetForUpdate(ctx, betID)
		if err != nil {
			return fmt.Errorf("get bet %s: %w", betID, err)
		}
		if b.Owner != caller.Address {
			return domain.ErrUnauthorized
		}
		m, err := uow.Markets().GetForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("get market %s: %w", marketID, err)
		}

		switch {
		case !m.Resolved:
			return domain.ErrNotResolved
		case b.Claimed:
			return domain.ErrAlreadyClaimed
		case b.Side != m.WinningOutcome:
			return domain.ErrWrongBet
		case b.MarketID != m.ID:
			return domain.ErrMarketMismatch
		}

		claim, err := settlement.Compute(m, b)
		if err != nil {
			return err
		}
		paid, err := settlement.Add(m.PaidOut, claim.Payout)
		if err != nil {
			return err
		}

		winner, loser := settlement.SidePools(m.WinningOutcome)
		if err := uow.Ledger().Transfer(ctx, m.PoolAccount(winner), b.Owner, claim.Stake); err != nil {
			return poolDebitError(err)
		}
		if err := uow.Ledger().Transfer(ctx, m.PoolAccount(loser), b.Owner, claim.Share); err != nil {
			return poolDebitError(err)
		}
		if err := uow.Bets().MarkClaimed(ctx, b.ID, claim.Payout, now); err != nil {
			return err
		}

		m.PaidOut = paid
		m.UpdatedAt = now
		if err := uow.Markets().Update(ctx, m); err != nil {
			return fmt.Errorf("update market %s: %w", m.ID, err)
		}

		b.Claimed = true
		b.Payout = claim.Payout
		b.ClaimedAt = &now
		result = ClaimResult{Bet: b, Claim: claim}
		market = m
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "betting_service: claim invariant violated",
				slog.String("market_id", marketID),
				slog.String("bet_id", betID),
				slog.String("error", err.Error()),
			)
		}
		return ClaimResult{}, s.fail("claim_winnings", fmt.Errorf("betting_service: claim winnings: %w", err))
	}

	s.logger.InfoContext(ctx, "betting_service: winnings claimed",
		slog.String("market_id", market.ID),
		slog.String("bet_id", result.Bet.ID),
		slog.Uint64("payout", result.Claim.Payout),
	)
	s.metrics.Op("claim_winnings", "ok")
	s.metrics.Payout(result.Claim.Payout)
	s.invalidate(ctx, market.ID)
	bet := result.Bet
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventWinningsClaimed,
		MarketID:   market.ID,
		Market:     &market,
		Bet:        &bet,
		Payout:     result.Claim.Payout,
		OccurredAt: now,
	})
	return result, nil
}

// CloseExpired clears the betting flag on up to limit markets whose close
// time has passed and returns the markets it closed.
func (s *BettingService) CloseExpired(ctx context.Context, limit int) ([]domain.Market, error) {
	now := s.clock.Now()
	var closed []domain.Market

	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		closed = closed[:0]
		expired, err := uow.Markets().ListExpiredOpen(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		for _, m := range expired {
			locked, err := uow.Markets().GetForUpdate(ctx, m.ID)
			if err != nil {
				return fmt.Errorf("get market %s: %w", m.ID, err)
			}
			if !locked.BetOpen || locked.Resolved {
				continue
			}
			locked.BetOpen = false
			locked.UpdatedAt = now
			if err := uow.Markets().Update(ctx, locked); err != nil {
				return fmt.Errorf("close market %s: %w", m.ID, err)
			}
			closed = append(closed, locked)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("betting_service: close expired: %w", err)
	}

	s.metrics.Swept(len(closed))
	for i := range closed {
		m := closed[i]
		s.invalidate(ctx, m.ID)
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventBettingClosed,
			MarketID:   m.ID,
			Market:     &m,
			OccurredAt: now,
		})
	}
	return closed, nil
}

// GetMarket returns a market, reading through the cache when one is set.
func (s *BettingService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	var m domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		m, err = uow.Markets().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("betting_service: get market %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "betting_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets matching filter, newest first.
func (s *BettingService) ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		out, err = uow.Markets().List(ctx, filter, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("betting_service: list markets: %w", err)
	}
	return out, nil
}

// GetBet returns a single bet.
func (s *BettingService) GetBet(ctx context.Context, id string) (domain.Bet, error) {
	var b domain.Bet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		b, err = uow.Bets().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("betting_service: get bet %q: %w", id, err)
	}
	return b, nil
}

// ListBetsByMarket returns the bets on a market in placement order.
func (s *BettingService) ListBetsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	var out []domain.Bet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		out, err = uow.Bets().ListByMarket(ctx, marketID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("betting_service: list bets for %q: %w", marketID, err)
	}
	return out, nil
}

// ListBetsByOwner returns an owner's bets in placement order.
func (s *BettingService) ListBetsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Bet, error) {
	var out []domain.Bet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		out, err = uow.Bets().ListByOwner(ctx, owner, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("betting_service: list bets by owner %q: %w", owner, err)
	}
	return out, nil
}

// ListResolvedBefore returns up to limit markets resolved before the cutoff
// that sort after the cursor, oldest first.
func (s *BettingService) ListResolvedBefore(ctx context.Context, before time.Time, after domain.ResolvedCursor, limit int) ([]domain.Market, error) {
	var out []domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		out, err = uow.Markets().ListResolvedBefore(ctx, before, after, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("betting_service: list resolved before %s: %w", before.Format(time.RFC3339), err)
	}
	return out, nil
}

// Balance returns the ledger balance of an account.
func (s *BettingService) Balance(ctx context.Context, account string) (uint64, error) {
	var bal uint64
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		var err error
		bal, err = uow.Ledger().BalanceOf(ctx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("betting_service: balance of %q: %w", account, err)
	}
	return bal, nil
}

// Deposit credits an account from outside the ledger and returns the new
// balance. Callers must restrict it to administrators.
func (s *BettingService) Deposit(ctx context.Context, account string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("betting_service: deposit: %w", domain.ErrBetAmountInvalid)
	}
	var bal uint64
	err := s.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := uow.Ledger().Deposit(ctx, account, amount); err != nil {
			return err
		}
		var err error
		bal, err = uow.Ledger().BalanceOf(ctx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("betting_service: deposit to %q: %w", account, err)
	}
	s.logger.InfoContext(ctx, "betting_service: deposit",
		slog.String("account", account),
		slog.Uint64("amount", amount),
	)
	return bal, nil
}

func (s *BettingService) verify(ctx context.Context, caller domain.Caller) error {
	if caller.Address == "" {
		return fmt.Errorf("betting_service: missing caller: %w", domain.ErrUnauthorized)
	}
	if err := s.identity.Verify(ctx, caller); err != nil {
		return fmt.Errorf("betting_service: verify %s: %w", caller.Address, err)
	}
	return nil
}

func (s *BettingService) invalidate(ctx context.Context, marketID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "betting_service: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// fail counts a failed operation and returns err unchanged.
func (s *BettingService) fail(op string, err error) error {
	s.metrics.Op(op, errorClass(err))
	return err
}

// poolDebitError reports a pool that cannot cover a debit. Pools are only
// debited by amounts the settlement math proved they hold.
func poolDebitError(err error) error {
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return fmt.Errorf("pool debit: %w: %w", domain.ErrInvariantViolation, err)
	}
	return fmt.Errorf("pool debit: %w", err)
}

var errorClasses = []struct {
	err   error
	class string
}{
	{domain.ErrUnauthorized, "unauthorized"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrInvariantViolation, "invariant_violation"},
	{domain.ErrOverflow, "overflow"},
	{domain.ErrInsufficientFunds, "insufficient_funds"},
	{domain.ErrBettingClosed, "betting_closed"},
	{domain.ErrBetExists, "bet_exists"},
	{domain.ErrBetAmountInvalid, "bet_amount_invalid"},
	{domain.ErrAlreadyResolved, "already_resolved"},
	{domain.ErrAlreadyClaimed, "already_claimed"},
}

func errorClass(err error) string {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return "error"
}
