package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic names for all kafka topics used in the application
const (
	TopicGenerationRequested = "glaze.generation.requested"
	TopicPaymentEvents       = "glaze.payment.events"

	TopicDLQ = "glaze.dlq"
)

// Event types for outbox
const (
	EventGenerationRequested = "glaze.generation.requested"
	EventPaymentWebhook      = "glaze.payment.webhook"
)

// ConsumerGroup names for different Kafka consumers
const (
	GroupGenerationWorker = "glaze.generation.worker"
	GroupPaymentWorker    = "glaze.payment.worker"
)

type Config struct {
	Brokers           []string
	ProducerTimeout   time.Duration
	RequiredAcks      kgo.Acks
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxPollRecords    int
	MaxRetries        int
	RetryBackoff      time.Duration
}

func DefaultConfig(brokers []string) *Config {
	return &Config{
		Brokers:           brokers,
		ProducerTimeout:   10 * time.Second,
		RequiredAcks:      kgo.AllISRAcks(),
		SessionTimeout:    10 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		MaxPollRecords:    100,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
	}
}
