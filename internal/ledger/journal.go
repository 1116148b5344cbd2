package ledger

import (
	"context"
	"fmt"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal persists one immutable row per balance-affecting event. Record must
// run inside the same transaction as the balance mutation it describes.
type Journal interface {
	Record(ctx context.Context, tx pgx.Tx, entry *model.Transaction) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, error)
}

type PostgresJournal struct {
	db *pgxpool.Pool
}

func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (j *PostgresJournal) Record(ctx context.Context, tx pgx.Tx, entry *model.Transaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions
			(user_id, type, amount, balance_before, balance_after, status, description, generation_id, payment_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		entry.UserID,
		entry.Type,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Status,
		entry.Description,
		entry.GenerationID,
		entry.PaymentID,
		entry.CompletedAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (j *PostgresJournal) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, user_id, type, amount, balance_before, balance_after, status, description, generation_id, payment_id, created_at, completed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Status, &t.Description, &t.GenerationID, &t.PaymentID, &t.CreatedAt, &t.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		entries = append(entries, t)
	}
	return entries, rows.Err()
}
