package promocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*model.Promocode, error)
	CountUsages(ctx context.Context, promocodeID uuid.UUID) (int, error)
	CountUserUsages(ctx context.Context, promocodeID uuid.UUID, userID int64) (int, error)
	// LockTx takes the promocode row lock. The balance row lock serializes
	// redemptions per user only; the global cap spans users, so its re-check
	// must happen under this lock.
	LockTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) error
	// Tx variants run inside the redemption's atomic unit so the caps are
	// re-checked under the row locks.
	CountUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) (int, error)
	CountUserUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID, userID int64) (int, error)
	InsertUsageTx(ctx context.Context, tx pgx.Tx, usage *model.PromocodeUsage) error
	Create(ctx context.Context, promo *model.Promocode) error
	Deactivate(ctx context.Context, code string) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const promocodeColumns = `id, code, type, value, max_usages, max_usages_per_user, min_balance, starts_at, expires_at, is_active, description, created_at, updated_at`

func scanPromocode(row pgx.Row) (*model.Promocode, error) {
	var p model.Promocode
	err := row.Scan(
		&p.ID, &p.Code, &p.Type, &p.Value, &p.MaxUsages, &p.MaxUsagesPerUser,
		&p.MinBalance, &p.StartsAt, &p.ExpiresAt, &p.IsActive, &p.Description,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByCode matches case-insensitively; codes are stored lower-cased.
func (r *PostgresRepo) GetByCode(ctx context.Context, code string) (*model.Promocode, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+promocodeColumns+" FROM promocodes WHERE code = $1",
		strings.ToLower(strings.TrimSpace(code)))
	promo, err := scanPromocode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promocode: %w", err)
	}
	return promo, nil
}

func (r *PostgresRepo) CountUsages(ctx context.Context, promocodeID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM promocode_usages WHERE promocode_id = $1",
		promocodeID).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountUserUsages(ctx context.Context, promocodeID uuid.UUID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM promocode_usages WHERE promocode_id = $1 AND user_id = $2",
		promocodeID, userID).Scan(&count)
	return count, err
}

func (r *PostgresRepo) LockTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) error {
	_, err := tx.Exec(ctx, "SELECT id FROM promocodes WHERE id = $1 FOR UPDATE", promocodeID)
	if err != nil {
		return fmt.Errorf("failed to lock promocode: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CountUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM promocode_usages WHERE promocode_id = $1",
		promocodeID).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountUserUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID, userID int64) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM promocode_usages WHERE promocode_id = $1 AND user_id = $2",
		promocodeID, userID).Scan(&count)
	return count, err
}

func (r *PostgresRepo) InsertUsageTx(ctx context.Context, tx pgx.Tx, usage *model.PromocodeUsage) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO promocode_usages (promocode_id, user_id, applied_value)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		usage.PromocodeID, usage.UserID, usage.AppliedValue,
	).Scan(&usage.ID, &usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert promocode usage: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, promo *model.Promocode) error {
	promo.Code = strings.ToLower(strings.TrimSpace(promo.Code))
	err := r.db.QueryRow(ctx, `
		INSERT INTO promocodes (code, type, value, max_usages, max_usages_per_user, min_balance, starts_at, expires_at, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		promo.Code, promo.Type, promo.Value, promo.MaxUsages, promo.MaxUsagesPerUser,
		promo.MinBalance, promo.StartsAt, promo.ExpiresAt, promo.IsActive, promo.Description,
	).Scan(&promo.ID, &promo.CreatedAt, &promo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create promocode: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Deactivate(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE promocodes SET is_active = FALSE, updated_at = NOW() WHERE code = $1",
		strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		return fmt.Errorf("failed to deactivate promocode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromocodeNotFound
	}
	return nil
}
