// Package events publishes order and stock events to the configured brokers.
package events

import (
	"context"
	"errors"
	"time"
)

const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderPaymentChange = "order.payment_changed"
	OrderItemsAmended  = "order.items_amended"
	StockLow           = "stock.low"
	StockOut           = "stock.out"
)

// Event is the envelope written to every broker.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// New stamps an event with the current time.
func New(eventType, key string, payload any) Event {
	return Event{
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Multi fans an event out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var err error
	for _, p := range m {
		err = errors.Join(err, p.Publish(ctx, ev))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = errors.Join(err, p.Close())
	}
	return err
}
