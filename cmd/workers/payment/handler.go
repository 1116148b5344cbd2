package main

import (
	"context"
	"errors"
	"time"

	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/payment"
	"github.com/glazeapp/glaze/internal/redis"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/rs/zerolog"
)

// paymentHandler reconciles one provider webhook event per message. The
// reconcile itself is idempotent; the redis key is just a fast skip for
// replays so they never touch the database.
func paymentHandler(payments *payment.Service, redisClient *redis.Client, log *zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg *kafka.Message) error {
		log.Info().Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("Processing payment event")

		event, err := types.ParsePaymentEvent(msg.Value)
		if err != nil {
			// Malformed messages never become valid; drop instead of retrying.
			log.Error().Err(err).Msg("Failed to parse payment event, dropping message")
			return nil
		}

		idempotencyKey := "webhook:" + event.ProviderPaymentID + ":" + string(event.Kind)
		if processed, err := redisClient.GetIdempotencyKey(ctx, idempotencyKey); err == nil && processed != "" {
			log.Info().Str("provider_payment_id", event.ProviderPaymentID).Msg("Payment event already processed, skipping")
			return nil
		}

		ctx = context.WithValue(ctx, middleware.LoggerKey, log)

		err = payments.Reconcile(ctx, event)
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			// The webhook may have arrived before the payment row committed.
			// Returning the error retries with backoff; after max retries the
			// consumer gives up and the event stays visible in the log.
			log.Warn().Str("provider_payment_id", event.ProviderPaymentID).Msg("Payment not found yet, retrying")
			return err
		case errors.Is(err, payment.ErrAmountMismatch):
			log.Error().Str("provider_payment_id", event.ProviderPaymentID).Msg("Amount mismatch, dropping event for manual review")
			return nil
		case err != nil:
			return err
		}

		if err := redisClient.SetIdempotencyKey(ctx, idempotencyKey, 24*time.Hour); err != nil && !errors.Is(err, redis.ErrKeyExists) {
			log.Warn().Err(err).Msg("Failed to mark payment event processed")
		}
		return nil
	}
}
