package generation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/glazeapp/glaze/internal/outbox"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrGenerationNotFound = errors.New("generation not found")
	ErrAlreadySettled     = errors.New("generation already settled")
)

// Ledger is the slice of the ledger service the cost gate needs.
type Ledger interface {
	Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error)
}

// Pricer resolves the cost of one generation for a model.
type Pricer interface {
	Cost(model string) decimal.Decimal
}

type Service struct {
	repo    Repository
	ledger  Ledger
	pricer  Pricer
	enqueue func(ctx context.Context, tx pgx.Tx, eventType, partitionKey, correlationID string, payload any) error
}

func NewService(repo Repository, ledgerSvc Ledger, pricer Pricer) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledgerSvc,
		pricer:  pricer,
		enqueue: outbox.Enqueue,
	}
}

// Gate charges the user for one generation and dispatches the job. The
// deduction, the generation row and the outbox event are one atomic unit:
// either the user is charged and the job is durably queued, or nothing
// happened at all. An insufficient balance dispatches nothing.
func (s *Service) Gate(ctx context.Context, userID int64, modelName, prompt string) (*model.Generation, *model.Transaction, error) {
	cost := s.pricer.Cost(modelName)

	g := &model.Generation{
		ID:        uuid.New(),
		UserID:    userID,
		ModelName: modelName,
		Prompt:    prompt,
		Cost:      cost,
		Status:    model.GenerationQueued,
	}

	entry, err := s.ledger.Apply(ctx, ledger.Operation{
		UserID:      userID,
		Type:        model.TransactionWithdrawal,
		Amount:      cost,
		Description: fmt.Sprintf("Generation %s", modelName),
		Link:        ledger.LinkGeneration(g.ID),
		Within: func(ctx context.Context, tx pgx.Tx) error {
			if err := s.repo.InsertTx(ctx, tx, g); err != nil {
				return err
			}
			return s.enqueue(ctx, tx, kafka.EventGenerationRequested,
				strconv.FormatInt(userID, 10), g.ID.String(),
				types.GenerationJobEvent{
					GenerationID: g.ID.String(),
					UserID:       userID,
					Model:        modelName,
					Prompt:       prompt,
				})
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger := middleware.GetLogger(ctx)
	logger.Info().
		Str("generation_id", g.ID.String()).
		Int64("user_id", userID).
		Str("model", modelName).
		Str("cost", cost.String()).
		Msg("Generation charged and dispatched")

	return g, entry, nil
}

// Settle records the outcome of a generation. Success marks the row
// COMPLETED. Failure marks it FAILED and refunds the charged cost in the same
// atomic unit, linked to the same generation, so the failed attempt nets to
// zero while both journal entries remain. Settling twice is a no-op.
func (s *Service) Settle(ctx context.Context, generationID uuid.UUID, success bool, resultURL, failReason string) error {
	logger := middleware.GetLogger(ctx)

	g, err := s.repo.GetByID(ctx, generationID)
	if err != nil {
		return err
	}

	if success {
		err := s.repo.Complete(ctx, generationID, resultURL)
		if errors.Is(err, ErrAlreadySettled) {
			logger.Info().Str("generation_id", generationID.String()).Msg("Generation already settled, ignoring")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info().Str("generation_id", generationID.String()).Msg("Generation completed")
		return nil
	}

	_, err = s.ledger.Apply(ctx, ledger.Operation{
		UserID:      g.UserID,
		Type:        model.TransactionRefund,
		Amount:      g.Cost,
		Description: fmt.Sprintf("Automatic refund for failed generation %s", generationID),
		Link:        ledger.LinkGeneration(generationID),
		Within: func(ctx context.Context, tx pgx.Tx) error {
			status, err := s.repo.LockStatusTx(ctx, tx, generationID)
			if err != nil {
				return err
			}
			if status != model.GenerationQueued {
				return ErrAlreadySettled
			}
			return s.repo.FailTx(ctx, tx, generationID, failReason)
		},
	})
	if errors.Is(err, ErrAlreadySettled) {
		logger.Info().Str("generation_id", generationID.String()).Msg("Generation already settled, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("generation_id", generationID.String()).
		Int64("user_id", g.UserID).
		Str("refund", g.Cost.String()).
		Str("reason", failReason).
		Msg("Generation failed, cost refunded")
	return nil
}

// Get returns one generation by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Generation, error) {
	return s.repo.GetByID(ctx, id)
}
