package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so each
// store runs the same SQL inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor implements domain.Transactor with one pgx transaction per call.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a Transactor on pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx begins a read-committed transaction, runs fn and commits when fn
// returns nil. Rows read with GetForUpdate stay locked until then.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(ctx, newUnitOfWork(tx)); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type unitOfWork struct {
	markets *MarketStore
	bets    *BetStore
	ledger  *Ledger
}

func newUnitOfWork(q querier) *unitOfWork {
	return &unitOfWork{
		markets: &MarketStore{q: q},
		bets:    &BetStore{q: q},
		ledger:  &Ledger{q: q},
	}
}

func (u *unitOfWork) Markets() domain.MarketStore { return u.markets }
func (u *unitOfWork) Bets() domain.BetStore       { return u.bets }
func (u *unitOfWork) Ledger() domain.Ledger       { return u.ledger }

// toDB converts an amount to the BIGINT range.
func toDB(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("postgres: amount %d exceeds BIGINT: %w", v, domain.ErrOverflow)
	}
	return int64(v), nil
}

// toDBAll converts several amounts, stopping at the first failure.
func toDBAll(vs ...uint64) ([]int64, error) {
	out := make([]int64, len(vs))
	for i, v := range vs {
		n, err := toDB(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// fromDB converts a stored amount. CHECK constraints keep columns
// non-negative, so a negative value means the schema was bypassed.
func fromDB(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("postgres: negative stored amount %d: %w", v, domain.ErrInvariantViolation)
	}
	return uint64(v), nil
}

const (
	pgUniqueViolation   = "23505"
	pgNumericOutOfRange = "22003"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
