package types

// API request/response shapes. Monetary amounts travel as strings and are
// parsed into decimals at the boundary.

type RegisterUserRequest struct {
	ID        int64  `json:"id" validate:"required"`
	Username  string `json:"username" validate:"omitempty,max=64"`
	FirstName string `json:"first_name" validate:"omitempty,max=128"`
}

type BalanceResponse struct {
	UserID  int64  `json:"user_id"`
	Balance string `json:"balance"`
}

type AdjustRequest struct {
	UserID  int64  `json:"user_id" validate:"required"`
	AdminID int64  `json:"admin_id" validate:"required"`
	Amount  string `json:"amount" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=500"`
}

type RedeemPromocodeRequest struct {
	Code          string  `json:"code" validate:"required,min=3,max=64"`
	UserID        int64   `json:"user_id" validate:"required"`
	DepositAmount *string `json:"deposit_amount,omitempty"`
}

type RedeemPromocodeResponse struct {
	AppliedValue string `json:"applied_value"`
	Balance      string `json:"balance"`
}

type CreatePromocodeRequest struct {
	Code             string  `json:"code" validate:"required,min=3,max=64"`
	Type             string  `json:"type" validate:"required,oneof=FIXED_AMOUNT PERCENTAGE BONUS_CREDITS"`
	Value            string  `json:"value" validate:"required"`
	MaxUsages        *int    `json:"max_usages,omitempty" validate:"omitempty,gte=1"`
	MaxUsagesPerUser int     `json:"max_usages_per_user" validate:"required,gte=1"`
	MinBalance       *string `json:"min_balance,omitempty"`
	StartsAt         *string `json:"starts_at,omitempty"`
	ExpiresAt        *string `json:"expires_at,omitempty"`
	Description      string  `json:"description,omitempty" validate:"max=500"`
}

type CreatePaymentRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

type CreatePaymentResponse struct {
	PaymentID       string `json:"payment_id"`
	Status          string `json:"status"`
	ConfirmationURL string `json:"confirmation_url"`
}

type CreateGenerationRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Model  string `json:"model" validate:"required,max=64"`
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

type CreateGenerationResponse struct {
	GenerationID string `json:"generation_id"`
	Dispatched   bool   `json:"dispatched"`
	Cost         string `json:"cost"`
	Balance      string `json:"balance"`
}

// GenerationJobEvent is the Kafka payload handed to the generation worker.
type GenerationJobEvent struct {
	GenerationID string `json:"generation_id"`
	UserID       int64  `json:"user_id"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
}
