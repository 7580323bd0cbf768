// Package events publishes ledger events to the Kafka stream consumed by the
// notification and reporting collaborators. Delivery is fire-and-forget: a
// broker outage costs events, never requests.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"tally/internal/ledger/models"
	"tally/internal/platform/kafka"
)

// KafkaPublisher implements ports.EventPublisher on a franz-go producer.
type KafkaPublisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewKafka wraps the producer. Returns nil if the producer is nil so callers
// can pass the result straight to the nil-safe ports helper.
func NewKafka(producer *kafka.Producer, logger *slog.Logger) *KafkaPublisher {
	if producer == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, logger: logger}
}

// Publish serializes the event and hands it to the producer. Records are
// keyed by principal so one principal's events stay ordered per partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.LedgerEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal ledger event",
			"type", string(event.Type),
			"error", err.Error(),
		)
		return
	}

	key := []byte(event.PrincipalID.String())
	p.producer.Produce(ctx, key, value, func(err error) {
		p.logger.WarnContext(ctx, "ledger event delivery failed",
			"type", string(event.Type),
			"principal_id", event.PrincipalID.String(),
			"error", err.Error(),
		)
	})
}
