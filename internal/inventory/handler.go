package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"recipestock/internal/platform/kafka"
	"recipestock/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler defines the interface for processing incoming messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafkago.Message) error
}

// KafkaMessageHandler applies inventory feed messages to the service.
type KafkaMessageHandler struct {
	service *Service
	logger  observability.Logger
}

func NewMessageHandler(service *Service, logger observability.Logger) MessageHandler {
	return &KafkaMessageHandler{
		service: service,
		logger:  logger,
	}
}

func (h *KafkaMessageHandler) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	msgCtx := kafka.ExtractTraceContext(ctx, msg.Headers)

	h.logger.Debug("Feed message received",
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var fm FeedMessage
	if err := json.Unmarshal(msg.Value, &fm); err != nil {
		h.logger.Error("Invalid JSON in feed message",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return err
	}

	if err := h.apply(msgCtx, fm); err != nil {
		if IsDomainError(err) {
			h.logger.Warn("Rejected feed message",
				zap.String("type", fm.Type),
				zap.Error(err),
			)
			return err
		}
		h.logger.Error("Failed to apply feed message",
			zap.String("type", fm.Type),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("Feed message applied", zap.String("type", fm.Type))
	return nil
}

func (h *KafkaMessageHandler) apply(ctx context.Context, fm FeedMessage) error {
	switch fm.Type {
	case FeedRestock:
		_, err := h.service.Restock(ctx, fm.IngredientID, fm.Quantity, fm.Note)
		return err
	case FeedAdjustment:
		_, err := h.service.Adjust(ctx, fm.IngredientID, fm.Quantity, fm.Note)
		return err
	case FeedMenuItemUpserted:
		if fm.MenuItem == nil {
			return NewValidationError("menuItem", "is required")
		}
		if err := h.service.UpsertMenuItem(ctx, *fm.MenuItem); err != nil {
			return err
		}
		if fm.Recipe != nil {
			return h.service.ReplaceRecipe(ctx, fm.MenuItem.ID, fm.Recipe)
		}
		return nil
	case FeedMenuItemRemoved:
		return h.service.RemoveMenuItem(ctx, fm.MenuItemID)
	default:
		return fmt.Errorf("unknown feed message type %q", fm.Type)
	}
}
