package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Model struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a Telegram Mini-App account. ID is the Telegram user id.
// Balance is mutated only through the ledger service.
type User struct {
	ID        int64           `json:"id" validate:"required"`
	Username  string          `json:"username" validate:"omitempty,max=64"`
	FirstName string          `json:"first_name" validate:"omitempty,max=128"`
	Balance   decimal.Decimal `json:"balance"`
	Model
}

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionRefund     TransactionType = "REFUND"
	TransactionBonus      TransactionType = "BONUS"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

// Transaction is one immutable journal entry. Amount is always a positive
// magnitude; the direction is implied by Type. BalanceBefore and BalanceAfter
// are captured under the same row lock as the balance mutation itself.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	UserID        int64             `json:"user_id" validate:"required"`
	Type          TransactionType   `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL REFUND BONUS"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Status        TransactionStatus `json:"status" validate:"required,oneof=PENDING COMPLETED FAILED CANCELLED"`
	Description   string            `json:"description,omitempty"`
	GenerationID  *uuid.UUID        `json:"generation_id,omitempty"`
	PaymentID     *uuid.UUID        `json:"payment_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "CREATED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment tracks one provider-side payment. IdempotencyKey is caller-supplied
// and unique; ProviderPaymentID is assigned by the provider once created.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	UserID            int64           `json:"user_id" validate:"required"`
	IdempotencyKey    string          `json:"idempotency_key" validate:"required"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency" validate:"required,len=3"`
	Status            PaymentStatus   `json:"status" validate:"required,oneof=CREATED PENDING SUCCEEDED CANCELLED REFUNDED"`
	ConfirmationURL   string          `json:"confirmation_url,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

type PromocodeType string

const (
	PromocodeFixedAmount  PromocodeType = "FIXED_AMOUNT"
	PromocodePercentage   PromocodeType = "PERCENTAGE"
	PromocodeBonusCredits PromocodeType = "BONUS_CREDITS"
)

type Promocode struct {
	ID               uuid.UUID        `json:"id"`
	Code             string           `json:"code" validate:"required,min=3,max=64"`
	Type             PromocodeType    `json:"type" validate:"required,oneof=FIXED_AMOUNT PERCENTAGE BONUS_CREDITS"`
	Value            decimal.Decimal  `json:"value"`
	MaxUsages        *int             `json:"max_usages,omitempty"`
	MaxUsagesPerUser int              `json:"max_usages_per_user" validate:"required,gte=1"`
	MinBalance       *decimal.Decimal `json:"min_balance,omitempty"`
	StartsAt         *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	IsActive         bool             `json:"is_active"`
	Description      string           `json:"description,omitempty"`
	Model
}

// PromocodeUsage is one row per successful redemption. It doubles as the
// per-user and global usage counter source.
type PromocodeUsage struct {
	ID           uuid.UUID       `json:"id"`
	PromocodeID  uuid.UUID       `json:"promocode_id" validate:"required"`
	UserID       int64           `json:"user_id" validate:"required"`
	AppliedValue decimal.Decimal `json:"applied_value"`
	CreatedAt    time.Time       `json:"created_at"`
}

type GenerationStatus string

const (
	GenerationQueued    GenerationStatus = "QUEUED"
	GenerationCompleted GenerationStatus = "COMPLETED"
	GenerationFailed    GenerationStatus = "FAILED"
)

// Generation is one paid unit of image-generation work. Cost is deducted when
// the row is created; a FAILED settlement refunds the same amount.
type Generation struct {
	ID         uuid.UUID        `json:"id"`
	UserID     int64            `json:"user_id" validate:"required"`
	ModelName  string           `json:"model" validate:"required"`
	Prompt     string           `json:"prompt" validate:"required,max=2000"`
	Cost       decimal.Decimal  `json:"cost"`
	Status     GenerationStatus `json:"status"`
	ResultURL  string           `json:"result_url,omitempty"`
	FailReason string           `json:"fail_reason,omitempty"`
	Model
}

// AdminLog is the audit trail for admin-initiated balance adjustments.
type AdminLog struct {
	ID        int64           `json:"id"`
	AdminID   int64           `json:"admin_id" validate:"required"`
	UserID    int64           `json:"user_id" validate:"required"`
	Action    string          `json:"action" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type TransactionOutbox struct {
	ID            int64  `json:"id" validate:"required"`
	EventType     string `json:"event_type" validate:"required"`
	Payload       []byte `json:"payload" validate:"required"`
	PartitionKey  string `json:"partition_key" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=pending processed failed"`
	CorrelationID string `json:"correlation_id"`
	RetryCount    int    `json:"retry_count" validate:"gte=0"`
	LastError     string `json:"last_error,omitempty"`
	Model
}
