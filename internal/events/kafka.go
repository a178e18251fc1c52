package events

import (
	"context"
	"encoding/json"
	"fmt"

	"recipestock/internal/platform/kafka"
	"recipestock/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes events keyed by Event.Key, so all events of one order
// land on the same partition.
type KafkaPublisher struct {
	producer kafka.Producer
	logger   observability.Logger
}

func NewKafkaPublisher(producer kafka.Producer, logger observability.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(ev.Key),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}

	p.logger.Debug("Published event to Kafka",
		zap.String("event_type", ev.Type),
		zap.String("key", ev.Key),
	)
	return nil
}

// Close is a no-op; the producer is owned by the container.
func (p *KafkaPublisher) Close() error { return nil }
