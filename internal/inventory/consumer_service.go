package inventory

import (
	"context"
	"errors"
	"time"

	"recipestock/internal/platform/kafka"
	"recipestock/internal/platform/observability"

	"go.uber.org/zap"
)

// readRetryDelay paces the loop while the broker is unreachable.
const readRetryDelay = time.Second

type ConsumerService interface {
	Start(ctx context.Context) error
}

// KafkaConsumerService applies inventory feed messages until ctx is done.
// Messages that fail to apply are logged by the handler and skipped, so one bad
// feed entry never blocks the partition.
type KafkaConsumerService struct {
	consumer kafka.Consumer
	handler  MessageHandler
	logger   observability.Logger
}

func NewConsumerService(consumer kafka.Consumer, handler MessageHandler, logger observability.Logger) ConsumerService {
	return &KafkaConsumerService{
		consumer: consumer,
		handler:  handler,
		logger:   logger,
	}
}

func (c *KafkaConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Inventory feed consumer started")

	var applied, skipped int
	for ctx.Err() == nil {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			c.logger.Error("Failed to read inventory feed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readRetryDelay):
			}
			continue
		}

		if err := c.handler.HandleMessage(ctx, *msg); err != nil {
			skipped++
			continue
		}
		applied++
	}

	c.logger.Info("Inventory feed consumer stopped",
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)
	return nil
}
