package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AuditLog receives a record for every admin-initiated adjustment. Writes are
// fire-and-forget; a failed audit write never rolls back the adjustment.
type AuditLog interface {
	Record(ctx context.Context, entry *model.AdminLog) error
}

// Link attaches a transaction to the generation or payment that caused it.
type Link struct {
	GenerationID *uuid.UUID
	PaymentID    *uuid.UUID
}

func LinkGeneration(id uuid.UUID) Link { return Link{GenerationID: &id} }
func LinkPayment(id uuid.UUID) Link    { return Link{PaymentID: &id} }

// Operation describes one balance-affecting event. Amount is always a
// positive magnitude; Type decides the direction. Within, when set, runs
// inside the same atomic unit as the balance mutation and journal insert -
// it is how collaborators make their own writes (promocode usage rows,
// payment status updates) commit or roll back together with the credit.
type Operation struct {
	UserID      int64
	Type        model.TransactionType
	Amount      decimal.Decimal
	Description string
	Link        Link
	Within      func(ctx context.Context, tx pgx.Tx) error
}

// Service composes the balance store and the journal into the four canonical
// money-movement operations. Every operation is all-or-nothing.
type Service struct {
	store   BalanceStore
	journal Journal
	audit   AuditLog
	log     *zerolog.Logger
}

func NewService(store BalanceStore, journal Journal, audit AuditLog, log *zerolog.Logger) *Service {
	return &Service{
		store:   store,
		journal: journal,
		audit:   audit,
		log:     log,
	}
}

// Apply executes one operation as a single atomic unit: lock balance row,
// compute new balance, persist it, record the journal entry, run the Within
// hook. Any failure rolls the whole unit back.
func (s *Service) Apply(ctx context.Context, op Operation) (*model.Transaction, error) {
	if op.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	var entry *model.Transaction
	err := s.store.WithLockedBalance(ctx, op.UserID, func(ctx context.Context, tx pgx.Tx, balance decimal.Decimal) (decimal.Decimal, error) {
		var newBalance decimal.Decimal

		switch op.Type {
		case model.TransactionDeposit, model.TransactionRefund, model.TransactionBonus:
			newBalance = balance.Add(op.Amount)
		case model.TransactionWithdrawal:
			if balance.LessThan(op.Amount) {
				return balance, ErrInsufficientBalance
			}
			newBalance = balance.Sub(op.Amount)
		default:
			return balance, fmt.Errorf("unknown transaction type %q", op.Type)
		}

		now := time.Now()
		entry = &model.Transaction{
			UserID:        op.UserID,
			Type:          op.Type,
			Amount:        op.Amount,
			BalanceBefore: balance,
			BalanceAfter:  newBalance,
			Status:        model.TransactionCompleted,
			Description:   op.Description,
			GenerationID:  op.Link.GenerationID,
			PaymentID:     op.Link.PaymentID,
			CompletedAt:   &now,
		}
		if err := s.journal.Record(ctx, tx, entry); err != nil {
			return balance, err
		}

		if op.Within != nil {
			if err := op.Within(ctx, tx); err != nil {
				return balance, err
			}
		}

		return newBalance, nil
	})
	if err != nil {
		return nil, err
	}

	logger := middleware.GetLogger(ctx)
	logger.Info().
		Int64("user_id", op.UserID).
		Str("type", string(op.Type)).
		Str("amount", op.Amount.String()).
		Str("balance_after", entry.BalanceAfter.String()).
		Msg("Ledger operation committed")

	return entry, nil
}

// Deposit credits the user's balance. Always succeeds for an existing user
// and a positive amount.
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description string, link Link) (*model.Transaction, error) {
	return s.Apply(ctx, Operation{
		UserID:      userID,
		Type:        model.TransactionDeposit,
		Amount:      amount,
		Description: description,
		Link:        link,
	})
}

// Deduct debits the user's balance, failing with ErrInsufficientBalance if
// the balance would go negative. No partial debit is ever committed.
func (s *Service) Deduct(ctx context.Context, userID int64, amount decimal.Decimal, description string, link Link) (*model.Transaction, error) {
	return s.Apply(ctx, Operation{
		UserID:      userID,
		Type:        model.TransactionWithdrawal,
		Amount:      amount,
		Description: description,
		Link:        link,
	})
}

// Refund is structurally a deposit, tagged REFUND so reversals of prior
// deductions stay distinguishable in the journal.
func (s *Service) Refund(ctx context.Context, userID int64, amount decimal.Decimal, description string, link Link) (*model.Transaction, error) {
	return s.Apply(ctx, Operation{
		UserID:      userID,
		Type:        model.TransactionRefund,
		Amount:      amount,
		Description: description,
		Link:        link,
	})
}

// Adjust is the admin-initiated correction: a positive signed amount credits
// the balance as BONUS, a negative one debits it as WITHDRAWAL, still subject
// to the non-negative balance invariant. Every adjustment also produces an
// admin audit record.
func (s *Service) Adjust(ctx context.Context, userID int64, signedAmount decimal.Decimal, reason string, adminID int64, link Link) (*model.Transaction, error) {
	if signedAmount.IsZero() {
		return nil, ErrInvalidAmount
	}

	op := Operation{
		UserID:      userID,
		Description: reason,
		Link:        link,
	}
	if signedAmount.IsPositive() {
		op.Type = model.TransactionBonus
		op.Amount = signedAmount
	} else {
		op.Type = model.TransactionWithdrawal
		op.Amount = signedAmount.Neg()
	}

	entry, err := s.Apply(ctx, op)
	if err != nil {
		return nil, err
	}

	go func() {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.audit.Record(auditCtx, &model.AdminLog{
			AdminID: adminID,
			UserID:  userID,
			Action:  "balance_adjust",
			Amount:  signedAmount,
			Reason:  reason,
		})
		if err != nil {
			s.log.Error().Err(err).
				Int64("admin_id", adminID).
				Int64("user_id", userID).
				Msg("Failed to write admin audit record")
		}
	}()

	return entry, nil
}

// Transactions returns the user's journal, newest first.
func (s *Service) Transactions(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.journal.ListByUser(ctx, userID, limit, offset)
}
