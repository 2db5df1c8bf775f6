package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	q querier
}

// NewMarketStore creates a MarketStore that runs outside any transaction.
// GetForUpdate only locks when the store comes from Transactor.WithinTx.
func NewMarketStore(q querier) *MarketStore {
	return &MarketStore{q: q}
}

const marketCols = `id, authority, question, category, created_at, close_time,
	total_yes, total_no, bet_open, resolved, winning_outcome,
	fee_collected, settlement_pool, paid_out, resolved_at, updated_at`

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	amounts, err := toDBAll(m.TotalYes, m.TotalNo, m.FeeCollected, m.SettlementPool, m.PaidOut)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = s.q.Exec(ctx, query,
		m.ID, m.Authority, m.Question, m.Category, m.CreatedAt, m.CloseTime,
		amounts[0], amounts[1], m.BetOpen, m.Resolved, bool(m.WinningOutcome),
		amounts[2], amounts[3], amounts[4], m.ResolvedAt, m.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	amounts, err := toDBAll(m.TotalYes, m.TotalNo, m.FeeCollected, m.SettlementPool, m.PaidOut)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}

	const query = `
		UPDATE markets SET
			total_yes       = $2,
			total_no        = $3,
			bet_open        = $4,
			resolved        = $5,
			winning_outcome = $6,
			fee_collected   = $7,
			settlement_pool = $8,
			paid_out        = $9,
			resolved_at     = $10,
			updated_at      = $11
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		m.ID, amounts[0], amounts[1], m.BetOpen, m.Resolved, bool(m.WinningOutcome),
		amounts[2], amounts[3], amounts[4], m.ResolvedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return s.get(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
}

// GetForUpdate retrieves a market and locks its row for the rest of the
// transaction.
func (s *MarketStore) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return s.get(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id)
}

func (s *MarketStore) get(ctx context.Context, query, id string) (domain.Market, error) {
	m, err := scanMarket(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first, narrowed by filter and windowed on
// created_at.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	w := newWhere()
	if filter.Category != "" {
		w.add("category = %s", filter.Category)
	}
	if filter.Authority != "" {
		w.add("authority = %s", filter.Authority)
	}
	if filter.Resolved != nil {
		w.add("resolved = %s", *filter.Resolved)
	}
	w.window("created_at", opts)

	query := `SELECT ` + marketCols + ` FROM markets` + w.sql() +
		` ORDER BY created_at DESC, id` + w.page(opts)
	return s.query(ctx, "list markets", query, w.args...)
}

// ListExpiredOpen returns markets still flagged open whose close time has
// passed, soonest first.
func (s *MarketStore) ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE bet_open AND NOT resolved AND close_time < $1
		ORDER BY close_time, id`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, "list expired markets", query, args...)
}

// ListResolvedBefore returns markets resolved strictly before the cutoff
// that sort after the cursor, oldest resolution first. A limit of 0 returns
// all of them.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time, after domain.ResolvedCursor, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE resolved AND resolved_at < $1 AND (resolved_at, id) > ($2, $3)
		ORDER BY resolved_at, id`
	args := []any{before, after.ResolvedAt, after.ID}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	return s.query(ctx, "list resolved markets", query, args...)
}

// Count returns the number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func (s *MarketStore) query(ctx context.Context, what, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return markets, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                      domain.Market
		yes, no, fee, pool, po int64
		winning                bool
	)
	err := row.Scan(
		&m.ID, &m.Authority, &m.Question, &m.Category, &m.CreatedAt, &m.CloseTime,
		&yes, &no, &m.BetOpen, &m.Resolved, &winning,
		&fee, &pool, &po, &m.ResolvedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.WinningOutcome = domain.Side(winning)

	for _, f := range []struct {
		dst *uint64
		src int64
	}{
		{&m.TotalYes, yes}, {&m.TotalNo, no}, {&m.FeeCollected, fee},
		{&m.SettlementPool, pool}, {&m.PaidOut, po},
	} {
		v, err := fromDB(f.src)
		if err != nil {
			return domain.Market{}, err
		}
		*f.dst = v
	}
	return m, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
