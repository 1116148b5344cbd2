package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/glazeapp/glaze/internal/middleware"
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

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.Transactions(ctx, userID, limit, offset)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list transactions")
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": entries})
}

// Adjust is the admin back-office balance correction endpoint. The router
// guards it; by the time a request lands here the admin identity in the body
// is trusted.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)
	logger.Info().Msg("Received admin adjust request")

	var req types.AdjustRequest
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

	entry, err := h.service.Adjust(ctx, req.UserID, amount, req.Reason, req.AdminID, Link{})
	switch {
	case errors.Is(err, ErrUserNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrInvalidAmount):
		http.Error(w, "Amount must be non-zero", http.StatusBadRequest)
		return
	case errors.Is(err, ErrInsufficientBalance):
		http.Error(w, "Adjustment would drive balance negative", http.StatusConflict)
		return
	case err != nil:
		logger.Error().Err(err).Msg("Failed to adjust balance")
		http.Error(w, "Failed to adjust balance, try again", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}
