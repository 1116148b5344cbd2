package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/pkg/types"
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

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)
	logger.Info().Msg("Received create payment request")

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		http.Error(w, "Idempotency-Key header is required", http.StatusBadRequest)
		return
	}

	var req types.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	p, err := h.service.CreatePayment(ctx, req.UserID, amount, idempotencyKey)
	switch {
	case errors.Is(err, ErrInvalidAmount):
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	case errors.Is(err, ErrRequestInFlight):
		http.Error(w, "Request with this idempotency key is already in progress", http.StatusConflict)
		return
	case errors.Is(err, ledger.ErrUserNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case err != nil:
		logger.Error().Err(err).Msg("Failed to create payment")
		http.Error(w, "Failed to create payment, try again", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(types.CreatePaymentResponse{
		PaymentID:       p.ID.String(),
		Status:          string(p.Status),
		ConfirmationURL: p.ConfirmationURL,
	})
}
