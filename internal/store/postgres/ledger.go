package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Ledger implements domain.Ledger on ledger_accounts, journaling every
// movement to ledger_entries. A failed debit or credit aborts the enclosing
// transaction, so it must run inside Transactor.WithinTx.
type Ledger struct {
	q querier
}

// NewLedger creates a Ledger on q.
func NewLedger(q querier) *Ledger {
	return &Ledger{q: q}
}

// Transfer moves amount between two accounts. Zero amounts and self
// transfers are no-ops.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	amt, err := toDB(amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer %s -> %s: %w", from, to, err)
	}

	tag, err := l.q.Exec(ctx, `
		UPDATE ledger_accounts SET balance = balance - $2, updated_at = NOW()
		WHERE account = $1 AND balance >= $2`, from, amt)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s by %d: %w", from, amount, domain.ErrInsufficientFunds)
	}

	if err := l.credit(ctx, to, amt); err != nil {
		return err
	}
	return l.journal(ctx, &from, to, amt)
}

// BalanceOf returns the account balance; unknown accounts hold zero.
func (l *Ledger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	var bal int64
	err := l.q.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE account = $1`, account).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return fromDB(bal)
}

// Deposit credits account from outside the ledger.
func (l *Ledger) Deposit(ctx context.Context, account string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	amt, err := toDB(amount)
	if err != nil {
		return fmt.Errorf("postgres: deposit %s: %w", account, err)
	}
	if err := l.credit(ctx, account, amt); err != nil {
		return err
	}
	return l.journal(ctx, nil, account, amt)
}

func (l *Ledger) credit(ctx context.Context, account string, amt int64) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO ledger_accounts (account, balance, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			balance    = ledger_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`, account, amt)
	if err != nil {
		if pgCode(err) == pgNumericOutOfRange {
			return fmt.Errorf("postgres: credit %s: %w", account, domain.ErrOverflow)
		}
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

func (l *Ledger) journal(ctx context.Context, from *string, to string, amt int64) error {
	if _, err := l.q.Exec(ctx,
		`INSERT INTO ledger_entries (from_account, to_account, amount) VALUES ($1, $2, $3)`,
		from, to, amt,
	); err != nil {
		return fmt.Errorf("postgres: journal %s: %w", to, err)
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
