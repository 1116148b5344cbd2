package promocode

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

var validate = validator.New()

// redeemStatus maps each validation failure to its HTTP status. The specific
// reason is always surfaced to the user.
func redeemStatus(err error) int {
	switch {
	case errors.Is(err, ErrPromocodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPromocodeInactive),
		errors.Is(err, ErrPromocodeNotStarted),
		errors.Is(err, ErrPromocodeExpired),
		errors.Is(err, ErrUsageLimitReached),
		errors.Is(err, ErrAlreadyUsedByUser),
		errors.Is(err, ErrMinBalanceNotMet):
		return http.StatusConflict
	case errors.Is(err, ErrDepositAmountRequired),
		errors.Is(err, ErrInvalidDepositAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)
	logger.Info().Msg("Received promocode redeem request")

	var req types.RedeemPromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	var depositAmount *decimal.Decimal
	if req.DepositAmount != nil {
		amount, err := decimal.NewFromString(*req.DepositAmount)
		if err != nil {
			http.Error(w, "Invalid deposit amount", http.StatusBadRequest)
			return
		}
		depositAmount = &amount
	}

	result, err := h.service.Redeem(ctx, req.Code, req.UserID, depositAmount)
	if err != nil {
		status := redeemStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error().Err(err).Msg("Failed to redeem promocode")
			http.Error(w, "Failed to redeem promocode, try again", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(types.RedeemPromocodeResponse{
		AppliedValue: result.AppliedValue.StringFixed(2),
		Balance:      result.Balance.StringFixed(2),
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	var req types.CreatePromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil || value.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "Invalid value", http.StatusBadRequest)
		return
	}

	promo := &model.Promocode{
		Code:             req.Code,
		Type:             model.PromocodeType(req.Type),
		Value:            value,
		MaxUsages:        req.MaxUsages,
		MaxUsagesPerUser: req.MaxUsagesPerUser,
		IsActive:         true,
		Description:      req.Description,
	}

	if req.MinBalance != nil {
		minBalance, err := decimal.NewFromString(*req.MinBalance)
		if err != nil {
			http.Error(w, "Invalid min balance", http.StatusBadRequest)
			return
		}
		promo.MinBalance = &minBalance
	}
	if req.StartsAt != nil {
		startsAt, err := time.Parse(time.RFC3339, *req.StartsAt)
		if err != nil {
			http.Error(w, "Invalid starts_at", http.StatusBadRequest)
			return
		}
		promo.StartsAt = &startsAt
	}
	if req.ExpiresAt != nil {
		expiresAt, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			http.Error(w, "Invalid expires_at", http.StatusBadRequest)
			return
		}
		promo.ExpiresAt = &expiresAt
	}

	if err := h.service.Create(ctx, promo); err != nil {
		logger.Error().Err(err).Msg("Failed to create promocode")
		http.Error(w, "Failed to create promocode", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(promo)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	code := chi.URLParam(r, "code")
	if err := h.service.Deactivate(ctx, code); err != nil {
		if errors.Is(err, ErrPromocodeNotFound) {
			http.Error(w, "Promocode not found", http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Msg("Failed to deactivate promocode")
		http.Error(w, "Failed to deactivate promocode", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
