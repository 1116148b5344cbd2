package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BalanceFunc receives the balance read under the row lock and returns the
// new balance to persist. Returning an error rolls the whole unit back. The
// pgx transaction is exposed so callers can piggyback additional writes onto
// the same atomic unit (journal entries, usage rows, payment updates).
type BalanceFunc func(ctx context.Context, tx pgx.Tx, balance decimal.Decimal) (decimal.Decimal, error)

// BalanceStore is the only sanctioned path to read or mutate a user's
// balance. Implementations must serialize concurrent invocations per user.
type BalanceStore interface {
	WithLockedBalance(ctx context.Context, userID int64, fn BalanceFunc) error
}

// PostgresStore locks the user's row with SELECT ... FOR UPDATE for the
// duration of one database transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithLockedBalance(ctx context.Context, userID int64, fn BalanceFunc) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	newBalance, err := fn(ctx, tx, balance)
	if err != nil {
		return err
	}

	if !newBalance.Equal(balance) {
		_, err = tx.Exec(ctx, "UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2", newBalance, userID)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
	}

	return tx.Commit(ctx)
}
