package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookHandler accepts provider payment notifications. It does not touch
// balances: it verifies, validates and durably stores the event in the outbox,
// and only then acks with 200. The payment worker does the reconciliation, so
// a crash after the ack can never lose a paid deposit.
type WebhookHandler struct {
	secret string
	db     *pgxpool.Pool
}

func NewWebhookHandler(secret string, db *pgxpool.Pool) *WebhookHandler {
	return &WebhookHandler{
		secret: secret,
		db:     db,
	}
}

func verifyWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return false
	}
	expectedSig := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger.Info().Msg("Received webhook request")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read request body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !verifyWebhookSignature(body, signature, h.secret) {
		logger.Error().Msg("Invalid webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := types.ParsePaymentEvent(body)
	if errors.Is(err, types.ErrUnknownWebhookEvent) {
		// Ack events we do not handle so the provider stops retrying them.
		logger.Warn().Err(err).Msg("Ignoring unknown webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	_, err = h.db.Exec(ctx, `
		INSERT INTO transaction_outbox (event_type, payload, partition_key, correlation_id, status)
		VALUES ($1, $2, $3, $4, 'pending')`,
		kafka.EventPaymentWebhook, body, event.ProviderPaymentID, event.InternalPaymentID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store webhook in outbox")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Info().
		Str("event", string(event.Kind)).
		Str("provider_payment_id", event.ProviderPaymentID).
		Msg("Webhook stored in outbox")
	w.WriteHeader(http.StatusOK)
}
