package generation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
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

func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)
	logger.Info().Msg("Received generation request")

	var req types.CreateGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	g, entry, err := h.service.Gate(ctx, req.UserID, req.Model, req.Prompt)
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case errors.Is(err, ledger.ErrInsufficientBalance):
		http.Error(w, "Insufficient balance", http.StatusPaymentRequired)
		return
	case err != nil:
		logger.Error().Err(err).Msg("Failed to create generation")
		http.Error(w, "Failed to create generation, try again", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(types.CreateGenerationResponse{
		GenerationID: g.ID.String(),
		Dispatched:   true,
		Cost:         g.Cost.StringFixed(2),
		Balance:      entry.BalanceAfter.StringFixed(2),
	})
}

func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid generation id", http.StatusBadRequest)
		return
	}

	g, err := h.service.Get(ctx, id)
	if errors.Is(err, ErrGenerationNotFound) {
		http.Error(w, "Generation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get generation")
		http.Error(w, "Failed to get generation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g)
}
