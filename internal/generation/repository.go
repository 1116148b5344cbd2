package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// InsertTx creates the generation row inside the deduction's atomic unit
	// so the charge and the work record commit together.
	InsertTx(ctx context.Context, tx pgx.Tx, g *model.Generation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Generation, error)
	// LockStatusTx reads the generation status FOR UPDATE so a duplicate
	// settlement serializes behind the first one.
	LockStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.GenerationStatus, error)
	// Complete settles a successful generation in its own transaction. A
	// second call returns ErrAlreadySettled and changes nothing.
	Complete(ctx context.Context, id uuid.UUID, resultURL string) error
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) InsertTx(ctx context.Context, tx pgx.Tx, g *model.Generation) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO generations (id, user_id, model, prompt, cost, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		g.ID, g.UserID, g.ModelName, g.Prompt, g.Cost, g.Status,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Generation, error) {
	var g model.Generation
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, model, prompt, cost, status, result_url, fail_reason, created_at, updated_at
		FROM generations WHERE id = $1`, id,
	).Scan(&g.ID, &g.UserID, &g.ModelName, &g.Prompt, &g.Cost, &g.Status,
		&g.ResultURL, &g.FailReason, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return &g, nil
}

func (r *PostgresRepo) LockStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.GenerationStatus, error) {
	var status model.GenerationStatus
	err := tx.QueryRow(ctx, "SELECT status FROM generations WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrGenerationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock generation: %w", err)
	}
	return status, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id uuid.UUID, resultURL string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := r.LockStatusTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != model.GenerationQueued {
		return ErrAlreadySettled
	}

	_, err = tx.Exec(ctx, `
		UPDATE generations
		SET status = $2, result_url = $3, updated_at = NOW()
		WHERE id = $1`,
		id, model.GenerationCompleted, resultURL)
	if err != nil {
		return fmt.Errorf("failed to complete generation: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE generations
		SET status = $2, fail_reason = $3, updated_at = NOW()
		WHERE id = $1`,
		id, model.GenerationFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark generation failed: %w", err)
	}
	return nil
}
