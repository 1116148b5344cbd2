package adminlog

import (
	"context"
	"fmt"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog persists admin audit records. It satisfies ledger.AuditLog.
type PostgresLog struct {
	db *pgxpool.Pool
}

func NewPostgresLog(db *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Record(ctx context.Context, entry *model.AdminLog) error {
	err := l.db.QueryRow(ctx, `
		INSERT INTO admin_logs (admin_id, user_id, action, amount, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		entry.AdminID, entry.UserID, entry.Action, entry.Amount, entry.Reason,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record admin log: %w", err)
	}
	return nil
}
