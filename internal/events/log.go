package events

import (
	"context"

	"recipestock/internal/platform/observability"

	"go.uber.org/zap"
)

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	logger observability.Logger
}

func NewLogPublisher(logger observability.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("Event",
		zap.String("event_type", ev.Type),
		zap.String("key", ev.Key),
		zap.Any("payload", ev.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
