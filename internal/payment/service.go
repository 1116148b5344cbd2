package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/glazeapp/glaze/internal/redis"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrRequestInFlight         = errors.New("request with this idempotency key is in flight")
	ErrAmountMismatch          = errors.New("webhook amount does not match payment amount")
	ErrInvalidAmount           = errors.New("amount must be positive")
)

const idempotencyTTL = 24 * time.Hour

// Ledger is the slice of the ledger service the reconciler needs.
type Ledger interface {
	Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error)
}

// PSP creates payments at the provider.
type PSP interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, description, idempotencyKey string, metadata map[string]string) (*types.YooKassaPaymentObject, error)
}

// IdempotencyCache absorbs fast retries of the same idempotency key before
// they reach the database. The redis client implements it.
type IdempotencyCache interface {
	CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	MarkIdempotencyFailed(ctx context.Context, key string) error
}

type Service struct {
	repo     Repository
	ledger   Ledger
	psp      PSP
	cache    IdempotencyCache
	currency string
}

func NewService(repo Repository, ledgerSvc Ledger, psp PSP, cache IdempotencyCache, currency string) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledgerSvc,
		psp:      psp,
		cache:    cache,
		currency: currency,
	}
}

// CreatePayment registers a payment with the provider, idempotently. The same
// idempotency key always yields the same payment: Redis absorbs fast retries,
// the unique key column in the payments table is the durable guard. A retry
// that finds a row without provider details resumes the provider call instead
// of failing.
func (s *Service) CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, idempotencyKey string) (*model.Payment, error) {
	logger := middleware.GetLogger(ctx)

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	cached, err := s.cache.CheckAndSetIdempotency(ctx, "payment:create:"+idempotencyKey, idempotencyTTL)
	if err != nil && !errors.Is(err, redis.ErrKeyExists) {
		logger.Warn().Err(err).Msg("Idempotency cache unavailable, falling back to database")
	}
	if cached != nil {
		var p model.Payment
		if err := json.Unmarshal(cached, &p); err == nil {
			return &p, nil
		}
		logger.Warn().Msg("Failed to decode cached payment, falling back to database")
	}

	existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing != nil && existing.ProviderPaymentID != nil {
		return existing, nil
	}
	if existing == nil && errors.Is(err, redis.ErrKeyExists) {
		// Another request holds the key and has not created the row yet.
		return nil, ErrRequestInFlight
	}

	p := existing
	if p == nil {
		p = &model.Payment{
			UserID:         userID,
			IdempotencyKey: idempotencyKey,
			Amount:         amount,
			Currency:       s.currency,
			Status:         model.PaymentCreated,
		}
		if err := s.repo.Create(ctx, p); err != nil {
			// A concurrent request may have won the insert race on the
			// unique key. Re-read before giving up.
			if again, lookupErr := s.repo.GetByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil && again != nil {
				p = again
				if p.ProviderPaymentID != nil {
					return p, nil
				}
			} else {
				s.releaseKey(ctx, idempotencyKey)
				return nil, err
			}
		}
	}

	obj, err := s.psp.CreatePayment(ctx, p.Amount, fmt.Sprintf("Balance top-up for user %d", p.UserID), idempotencyKey, map[string]string{
		"payment_id": p.ID.String(),
		"user_id":    strconv.FormatInt(p.UserID, 10),
	})
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, fmt.Errorf("failed to create provider payment: %w", err)
	}

	confirmationURL := ""
	if obj.Confirmation != nil {
		confirmationURL = obj.Confirmation.ConfirmationURL
	}
	if err := s.repo.SetProviderDetails(ctx, p.ID, obj.ID, confirmationURL, model.PaymentPending); err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, err
	}

	p.ProviderPaymentID = &obj.ID
	p.ConfirmationURL = confirmationURL
	p.Status = model.PaymentPending

	if body, err := json.Marshal(p); err == nil {
		if err := s.cache.MarkIdempotencyComplete(ctx, "payment:create:"+idempotencyKey, body, idempotencyTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache payment for idempotency")
		}
	}

	logger.Info().
		Str("payment_id", p.ID.String()).
		Str("provider_payment_id", obj.ID).
		Int64("user_id", p.UserID).
		Str("amount", p.Amount.String()).
		Msg("Payment created")

	return p, nil
}

func (s *Service) releaseKey(ctx context.Context, idempotencyKey string) {
	if err := s.cache.MarkIdempotencyFailed(ctx, "payment:create:"+idempotencyKey); err != nil {
		middleware.GetLogger(ctx).Warn().Err(err).Msg("Failed to release idempotency key")
	}
}

// Reconcile applies one provider webhook event to the payment it refers to.
// It is safe to call any number of times with the same event: the success
// path re-reads the payment status under a row lock inside the deposit's
// atomic unit, so a replay rolls back before any money moves.
func (s *Service) Reconcile(ctx context.Context, event *types.PaymentEvent) error {
	logger := middleware.GetLogger(ctx)

	p, err := s.resolve(ctx, event)
	if err != nil {
		return err
	}

	webhookAmount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		return fmt.Errorf("invalid webhook amount %q: %w", event.Amount, err)
	}
	if !webhookAmount.Equal(p.Amount) {
		logger.Error().
			Str("payment_id", p.ID.String()).
			Str("expected", p.Amount.String()).
			Str("got", webhookAmount.String()).
			Msg("Webhook amount mismatch")
		return ErrAmountMismatch
	}

	switch event.Kind {
	case types.PaymentEventSucceeded:
		return s.reconcileSucceeded(ctx, p, event)
	case types.PaymentEventCanceled:
		err := s.repo.MarkCancelled(ctx, p.ID)
		if errors.Is(err, ErrPaymentAlreadyProcessed) {
			logger.Info().Str("payment_id", p.ID.String()).Msg("Cancel webhook for settled payment, ignoring")
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %q", types.ErrUnknownWebhookEvent, event.Kind)
	}
}

func (s *Service) reconcileSucceeded(ctx context.Context, p *model.Payment, event *types.PaymentEvent) error {
	logger := middleware.GetLogger(ctx)

	if p.Status == model.PaymentSucceeded || p.Status == model.PaymentRefunded {
		logger.Info().Str("payment_id", p.ID.String()).Msg("Payment already settled, ignoring replay")
		return nil
	}

	_, err := s.ledger.Apply(ctx, ledger.Operation{
		UserID:      p.UserID,
		Type:        model.TransactionDeposit,
		Amount:      p.Amount,
		Description: fmt.Sprintf("Payment %s", event.ProviderPaymentID),
		Link:        ledger.LinkPayment(p.ID),
		Within: func(ctx context.Context, tx pgx.Tx) error {
			status, err := s.repo.LockStatusTx(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if status == model.PaymentSucceeded || status == model.PaymentRefunded {
				return ErrPaymentAlreadyProcessed
			}
			return s.repo.MarkSucceededTx(ctx, tx, p.ID)
		},
	})
	if errors.Is(err, ErrPaymentAlreadyProcessed) {
		logger.Info().Str("payment_id", p.ID.String()).Msg("Lost the reconcile race, deposit already applied")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("payment_id", p.ID.String()).
		Int64("user_id", p.UserID).
		Str("amount", p.Amount.String()).
		Msg("Payment reconciled, balance credited")
	return nil
}

func (s *Service) resolve(ctx context.Context, event *types.PaymentEvent) (*model.Payment, error) {
	if event.InternalPaymentID != "" {
		id, err := uuid.Parse(event.InternalPaymentID)
		if err == nil {
			return s.repo.GetByID(ctx, id)
		}
	}
	p, err := s.repo.GetByProviderID(ctx, event.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: provider payment %s", ErrPaymentNotFound, event.ProviderPaymentID)
	}
	return p, nil
}

// SweepStale cancels payments that never completed within the pending TTL.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.CancelStale(ctx, olderThan)
}
