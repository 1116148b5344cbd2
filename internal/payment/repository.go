package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	// GetByIdempotencyKey and GetByProviderID return (nil, nil) when no row
	// matches.
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
	GetByProviderID(ctx context.Context, providerID string) (*model.Payment, error)
	SetProviderDetails(ctx context.Context, id uuid.UUID, providerID, confirmationURL string, status model.PaymentStatus) error
	// LockStatusTx reads the payment status FOR UPDATE inside the caller's
	// transaction so a replayed webhook serializes behind the first one.
	LockStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.PaymentStatus, error)
	MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	CancelStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const paymentColumns = `id, user_id, idempotency_key, provider_payment_id, amount, currency, status, confirmation_url, created_at, completed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID, &p.UserID, &p.IdempotencyKey, &p.ProviderPaymentID,
		&p.Amount, &p.Currency, &p.Status, &p.ConfirmationURL,
		&p.CreatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepo) Create(ctx context.Context, p *model.Payment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments (user_id, idempotency_key, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		p.UserID, p.IdempotencyKey, p.Amount, p.Currency, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	row := r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	row := r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE idempotency_key = $1", key)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by idempotency key: %w", err)
	}
	return p, nil
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerID string) (*model.Payment, error) {
	row := r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE provider_payment_id = $1", providerID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by provider id: %w", err)
	}
	return p, nil
}

func (r *PostgresRepo) SetProviderDetails(ctx context.Context, id uuid.UUID, providerID, confirmationURL string, status model.PaymentStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET provider_payment_id = $2, confirmation_url = $3, status = $4
		WHERE id = $1`,
		id, providerID, confirmationURL, status)
	if err != nil {
		return fmt.Errorf("failed to set provider details: %w", err)
	}
	return nil
}

func (r *PostgresRepo) LockStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.PaymentStatus, error) {
	var status model.PaymentStatus
	err := tx.QueryRow(ctx, "SELECT status FROM payments WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPaymentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock payment: %w", err)
	}
	return status, nil
}

func (r *PostgresRepo) MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, completed_at = NOW()
		WHERE id = $1`,
		id, model.PaymentSucceeded)
	if err != nil {
		return fmt.Errorf("failed to mark payment succeeded: %w", err)
	}
	return nil
}

func (r *PostgresRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, model.PaymentCancelled, model.PaymentCreated, model.PaymentPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentAlreadyProcessed
	}
	return nil
}

// CancelStale flips CREATED and PENDING payments older than the cutoff to
// CANCELLED. The sweeper calls this on a schedule; a late success webhook for
// a swept payment still reconciles because the deposit path only checks for
// SUCCEEDED, never CANCELLED.
func (r *PostgresRepo) CancelStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $1, completed_at = NOW()
		WHERE status IN ($2, $3) AND created_at < NOW() - $4::interval`,
		model.PaymentCancelled, model.PaymentCreated, model.PaymentPending,
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale payments: %w", err)
	}
	return tag.RowsAffected(), nil
}
