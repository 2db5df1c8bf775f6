package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	q querier
}

// NewBetStore creates a BetStore that runs outside any transaction.
func NewBetStore(q querier) *BetStore {
	return &BetStore{q: q}
}

const betCols = `id, owner, market_id, amount, side, claimed, payout, placed_at, claimed_at`

// Create inserts a bet. A second bet by the same owner on the same market
// violates bets_owner_market_key and maps to domain.ErrBetExists.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	amounts, err := toDBAll(b.Amount, b.Payout)
	if err != nil {
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}

	const query = `INSERT INTO bets (` + betCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.q.Exec(ctx, query,
		b.ID, b.Owner, b.MarketID, amounts[0], bool(b.Side),
		b.Claimed, amounts[1], b.PlacedAt, b.ClaimedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: create bet %s: %w", b.ID, domain.ErrBetExists)
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	return nil
}

// GetByID retrieves a bet by its primary key.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	return s.get(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1`, id)
}

// GetForUpdate retrieves a bet and locks its row.
func (s *BetStore) GetForUpdate(ctx context.Context, id string) (domain.Bet, error) {
	return s.get(ctx, `SELECT `+betCols+` FROM bets WHERE id = $1 FOR UPDATE`, id)
}

func (s *BetStore) get(ctx context.Context, query, id string) (domain.Bet, error) {
	b, err := scanBet(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// MarkClaimed sets the claimed flag only if it is still clear, so two
// racing claims cannot both succeed.
func (s *BetStore) MarkClaimed(ctx context.Context, id string, payout uint64, at time.Time) error {
	p, err := toDB(payout)
	if err != nil {
		return fmt.Errorf("postgres: claim bet %s: %w", id, err)
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE bets SET claimed = TRUE, payout = $2, claimed_at = $3 WHERE id = $1 AND NOT claimed`,
		id, p, at)
	if err != nil {
		return fmt.Errorf("postgres: claim bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: claim bet %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: claim bet %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: claim bet %s: %w", id, domain.ErrAlreadyClaimed)
}

// ListByMarket returns a market's bets in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByOwner returns an owner's bets in placement order.
func (s *BetStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.list(ctx, "owner", owner, opts)
}

func (s *BetStore) list(ctx context.Context, col, val string, opts domain.ListOpts) ([]domain.Bet, error) {
	w := newWhere()
	w.add(col+" = %s", val)
	w.window("placed_at", opts)
	query := `SELECT ` + betCols + ` FROM bets` + w.sql() + ` ORDER BY placed_at, id` + w.page(opts)

	rows, err := s.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by %s: %w", col, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b              domain.Bet
		amount, payout int64
		side           bool
	)
	if err := row.Scan(
		&b.ID, &b.Owner, &b.MarketID, &amount, &side,
		&b.Claimed, &payout, &b.PlacedAt, &b.ClaimedAt,
	); err != nil {
		return domain.Bet{}, err
	}
	b.Side = domain.Side(side)

	var err error
	if b.Amount, err = fromDB(amount); err != nil {
		return domain.Bet{}, err
	}
	if b.Payout, err = fromDB(payout); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}

var _ domain.BetStore = (*BetStore)(nil)
