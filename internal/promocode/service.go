package promocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrPromocodeNotFound     = errors.New("promocode not found")
	ErrPromocodeInactive     = errors.New("promocode is inactive")
	ErrPromocodeNotStarted   = errors.New("promocode is not active yet")
	ErrPromocodeExpired      = errors.New("promocode has expired")
	ErrUsageLimitReached     = errors.New("promocode usage limit reached")
	ErrAlreadyUsedByUser     = errors.New("promocode already used by this user")
	ErrMinBalanceNotMet      = errors.New("minimum balance requirement not met")
	ErrDepositAmountRequired = errors.New("deposit amount required for percentage promocode")
	ErrInvalidDepositAmount  = errors.New("deposit amount must be positive")
)

// Ledger is the slice of the ledger service the redemption engine needs.
type Ledger interface {
	Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error)
}

// UserSource reads the user's current balance for the min-balance gate.
type UserSource interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

type Service struct {
	repo   Repository
	ledger Ledger
	users  UserSource
	now    func() time.Time
}

func NewService(repo Repository, ledgerSvc Ledger, users UserSource) *Service {
	return &Service{
		repo:   repo,
		ledger: ledgerSvc,
		users:  users,
		now:    time.Now,
	}
}

type RedeemResult struct {
	AppliedValue decimal.Decimal
	Balance      decimal.Decimal
}

// Redeem validates the code against the eligibility gates in order (first
// failure wins, no side effects) and, on pass, credits the bonus and records
// the usage row as one atomic unit. The caps are checked again inside that
// unit: the per-user cap under the user's balance row lock, the global cap
// under the promocode row lock, so racing redemptions by the same or by
// different users hit the re-check and roll back.
func (s *Service) Redeem(ctx context.Context, code string, userID int64, depositAmount *decimal.Decimal) (*RedeemResult, error) {
	promo, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, ErrPromocodeNotFound
	}

	now := s.now()
	if !promo.IsActive {
		return nil, ErrPromocodeInactive
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return nil, ErrPromocodeNotStarted
	}
	if promo.ExpiresAt != nil && now.After(*promo.ExpiresAt) {
		return nil, ErrPromocodeExpired
	}

	if promo.MaxUsages != nil {
		total, err := s.repo.CountUsages(ctx, promo.ID)
		if err != nil {
			return nil, err
		}
		if total >= *promo.MaxUsages {
			return nil, ErrUsageLimitReached
		}
	}

	used, err := s.repo.CountUserUsages(ctx, promo.ID, userID)
	if err != nil {
		return nil, err
	}
	if used >= promo.MaxUsagesPerUser {
		return nil, ErrAlreadyUsedByUser
	}

	if promo.MinBalance != nil {
		user, err := s.users.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user.Balance.LessThan(*promo.MinBalance) {
			return nil, ErrMinBalanceNotMet
		}
	}

	appliedValue, err := s.appliedValue(promo, depositAmount)
	if err != nil {
		return nil, err
	}

	entry, err := s.ledger.Apply(ctx, ledger.Operation{
		UserID:      userID,
		Type:        model.TransactionBonus,
		Amount:      appliedValue,
		Description: fmt.Sprintf("Promocode %s", promo.Code),
		Within: func(ctx context.Context, tx pgx.Tx) error {
			if promo.MaxUsages != nil {
				// The second transaction blocks here until the first one
				// commits its usage row, so the count below sees it.
				if err := s.repo.LockTx(ctx, tx, promo.ID); err != nil {
					return err
				}
				total, err := s.repo.CountUsagesTx(ctx, tx, promo.ID)
				if err != nil {
					return err
				}
				if total >= *promo.MaxUsages {
					return ErrUsageLimitReached
				}
			}
			used, err := s.repo.CountUserUsagesTx(ctx, tx, promo.ID, userID)
			if err != nil {
				return err
			}
			if used >= promo.MaxUsagesPerUser {
				return ErrAlreadyUsedByUser
			}
			return s.repo.InsertUsageTx(ctx, tx, &model.PromocodeUsage{
				PromocodeID:  promo.ID,
				UserID:       userID,
				AppliedValue: appliedValue,
			})
		},
	})
	if err != nil {
		return nil, err
	}

	logger := middleware.GetLogger(ctx)
	logger.Info().
		Str("code", promo.Code).
		Int64("user_id", userID).
		Str("applied_value", appliedValue.String()).
		Msg("Promocode redeemed")

	return &RedeemResult{
		AppliedValue: appliedValue,
		Balance:      entry.BalanceAfter,
	}, nil
}

func (s *Service) appliedValue(promo *model.Promocode, depositAmount *decimal.Decimal) (decimal.Decimal, error) {
	switch promo.Type {
	case model.PromocodePercentage:
		if depositAmount == nil {
			return decimal.Zero, ErrDepositAmountRequired
		}
		if depositAmount.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, ErrInvalidDepositAmount
		}
		return depositAmount.Mul(promo.Value).Div(decimal.NewFromInt(100)), nil
	case model.PromocodeFixedAmount, model.PromocodeBonusCredits:
		return promo.Value, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown promocode type %q", promo.Type)
	}
}

// Create registers a new promocode (admin surface).
func (s *Service) Create(ctx context.Context, promo *model.Promocode) error {
	return s.repo.Create(ctx, promo)
}

// Deactivate turns a promocode off (admin surface).
func (s *Service) Deactivate(ctx context.Context, code string) error {
	return s.repo.Deactivate(ctx, code)
}
