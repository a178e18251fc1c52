package order

import (
	"context"
	"time"
)

// Store persists orders. Get returns *inventory.NotFoundError for an unknown id.
type Store interface {
	// NextOrderNumber allocates the next number of the given UTC day.
	NextOrderNumber(ctx context.Context, day time.Time) (string, error)
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// List returns orders newest first, filtered by status unless it is empty.
	List(ctx context.Context, status Status) ([]Order, error)
	// ListActive returns every PENDING or PREPARING order.
	ListActive(ctx context.Context) ([]Order, error)
}
