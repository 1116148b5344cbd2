package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/jackc/pgx/v5"
)

// Enqueue inserts an outbox event inside the caller's transaction so the
// event commits or rolls back together with the business writes it announces.
// The relay picks it up and publishes it to Kafka.
func Enqueue(ctx context.Context, tx pgx.Tx, eventType, partitionKey, correlationID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transaction_outbox (event_type, payload, partition_key, correlation_id, status)
		VALUES ($1, $2, $3, $4, 'pending')`,
		eventType, body, partitionKey, correlationID)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

// TopicForEvent maps an outbox event type to its Kafka topic.
func TopicForEvent(eventType string) string {
	switch eventType {
	case kafka.EventGenerationRequested:
		return kafka.TopicGenerationRequested
	case kafka.EventPaymentWebhook:
		return kafka.TopicPaymentEvents
	default:
		return kafka.TopicDLQ // Send unknown events to DLQ
	}
}
