package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipestock/internal/events"
	"recipestock/internal/inventory"
	"recipestock/internal/platform/observability"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Settings are supplied by the settings collaborator on every call.
type Settings struct {
	MarkPaidOnConfirm bool
}

// Stock is the part of the inventory service the manager drives.
type Stock interface {
	MenuItem(id string) (inventory.MenuItem, bool)
	Commit(ctx context.Context, orderID string, items []inventory.Line, sessionID string, persist func(inventory.Demand) error) (inventory.Demand, error)
	Consume(ctx context.Context, orderID string, consumption inventory.Demand, persist func() error) (bool, error)
	Release(ctx context.Context, orderID string, persist func() error) error
	Deducted(orderID string) bool
	RestoreReservation(orderID string, items []inventory.Line, demand inventory.Demand)
}

// Manager runs the order state machine on top of the inventory reservations.
type Manager struct {
	stock     Stock
	store     Store
	locks     *inventory.LockSet
	publisher events.Publisher
	logger    observability.Logger
	tracer    observability.Tracer
	now       func() time.Time

	confirmed  metric.Int64Counter
	rejected   metric.Int64Counter
	deductions metric.Int64Counter
}

func NewManager(stock Stock, store Store, publisher events.Publisher, logger observability.Logger, tracer observability.Tracer, meter metric.Meter, lockTimeout time.Duration) (*Manager, error) {
	confirmed, err := meter.Int64Counter("orders.confirmed",
		metric.WithDescription("Orders admitted after the feasibility check"))
	if err != nil {
		return nil, fmt.Errorf("orders.confirmed counter: %w", err)
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Orders rejected for insufficient stock"))
	if err != nil {
		return nil, fmt.Errorf("orders.rejected counter: %w", err)
	}
	deductions, err := meter.Int64Counter("stock.deductions",
		metric.WithDescription("Ledger deductions applied on order completion"))
	if err != nil {
		return nil, fmt.Errorf("stock.deductions counter: %w", err)
	}

	return &Manager{
		stock:      stock,
		store:      store,
		locks:      inventory.NewLockSet(lockTimeout),
		publisher:  publisher,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
		confirmed:  confirmed,
		rejected:   rejected,
		deductions: deductions,
	}, nil
}

// ItemRequest is one requested order line. A nil Price takes the menu price.
type ItemRequest struct {
	MenuItemID string           `json:"menuItemId"`
	Quantity   int              `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

type CreateRequest struct {
	CustomerName  string        `json:"customerName"`
	TableNumber   string        `json:"tableNumber"`
	OrderType     string        `json:"orderType"`
	PaymentMethod string        `json:"paymentMethod"`
	LinkedOrderID string        `json:"linkedOrderId"`
	SessionID     string        `json:"sessionId"`
	Items         []ItemRequest `json:"items"`
}

// Create confirms a cart into a PENDING order. The order is persisted and its
// reservation installed only if every ingredient can cover the demand.
func (m *Manager) Create(ctx context.Context, req CreateRequest, settings Settings) (Order, error) {
	ctx, span := m.tracer.Start(ctx, "order_create")
	defer span.End()

	orderType, err := ParseType(req.OrderType)
	if err != nil {
		return Order{}, err
	}
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return Order{}, err
	}
	items, err := m.priceItems(req.Items)
	if err != nil {
		return Order{}, err
	}
	if req.LinkedOrderID != "" {
		if _, err := m.store.Get(ctx, req.LinkedOrderID); err != nil {
			var nf *inventory.NotFoundError
			if errors.As(err, &nf) {
				return Order{}, inventory.NewValidationError("linkedOrderId", "unknown order %q", req.LinkedOrderID)
			}
			return Order{}, err
		}
	}

	now := m.now().UTC()
	o := Order{
		ID:            uuid.NewString(),
		Items:         items,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		PaymentMethod: method,
		Type:          orderType,
		CustomerName:  req.CustomerName,
		TableNumber:   req.TableNumber,
		LinkedOrderID: req.LinkedOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Subtotal, o.Tax, o.Total = Totals(items)
	o.audit(now, "status", "", string(StatusPending))
	if settings.MarkPaidOnConfirm {
		o.PaymentStatus = PaymentPaid
		o.audit(now, "paymentStatus", string(PaymentUnpaid), string(PaymentPaid))
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	_, err = m.stock.Commit(ctx, o.ID, o.Lines(), req.SessionID, func(demand inventory.Demand) error {
		number, err := m.store.NextOrderNumber(ctx, now)
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}
		o.Number = number
		o.Consumption = demand
		return m.store.Create(ctx, o)
	})
	if err != nil {
		var short *inventory.InsufficientStockError
		if errors.As(err, &short) {
			m.rejected.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}

	m.confirmed.Add(ctx, 1)
	span.SetStatus(codes.Ok, "order confirmed")
	m.logger.Info("Order confirmed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Total.StringFixed(2)),
	)
	m.publish(ctx, events.New(events.OrderCreated, o.ID, o))
	return o, nil
}

func (m *Manager) priceItems(reqs []ItemRequest) ([]Item, error) {
	if len(reqs) == 0 {
		return nil, inventory.NewValidationError("items", "must not be empty")
	}
	items := make([]Item, 0, len(reqs))
	for i, r := range reqs {
		field := fmt.Sprintf("items[%d]", i)
		if r.Quantity <= 0 {
			return nil, inventory.NewValidationError(field+".quantity", "must be positive, got %d", r.Quantity)
		}
		mi, ok := m.stock.MenuItem(r.MenuItemID)
		if !ok {
			return nil, inventory.NewValidationError(field+".menuItemId", "unknown menu item %q", r.MenuItemID)
		}
		price := mi.Price
		if r.Price != nil {
			if r.Price.IsNegative() {
				return nil, inventory.NewValidationError(field+".price", "cannot be negative")
			}
			price = *r.Price
		}
		items = append(items, Item{
			MenuItemID: r.MenuItemID,
			Name:       mi.Name,
			Quantity:   r.Quantity,
			UnitPrice:  price,
			Subtotal:   price.Mul(decimal.NewFromInt(int64(r.Quantity))),
		})
	}
	return items, nil
}

// UpdateStatus moves an order to target. Repeating the current status is a
// no-op that returns the order unchanged.
func (m *Manager) UpdateStatus(ctx context.Context, id string, target Status) (Order, error) {
	ctx, span := m.tracer.Start(ctx, "order_transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", id),
		attribute.String("order.target_status", string(target)),
	)

	release, err := m.locks.Acquire(ctx, id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	o, err := m.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	from := o.Status
	if from == target {
		return o, nil
	}
	if from.Terminal() {
		return Order{}, inventory.NewConflictError("order %s is already %s", id, from)
	}

	now := m.now().UTC()
	next := o.Clone()
	next.Status = target
	next.UpdatedAt = now
	next.audit(now, "status", string(from), string(target))

	switch target {
	case StatusPreparing:
		if from != StatusPending {
			return Order{}, inventory.NewConflictError("order %s cannot move from %s to %s", id, from, target)
		}
		if err := m.store.Update(ctx, next); err != nil {
			return Order{}, err
		}

	case StatusCompleted:
		if from != StatusPreparing {
			return Order{}, inventory.NewConflictError("order %s cannot move from %s to %s", id, from, target)
		}
		next.CompletedAt = &now
		applied, err := m.stock.Consume(ctx, id, o.Consumption, func() error {
			return m.store.Update(ctx, next)
		})
		if applied {
			m.deductions.Add(ctx, 1)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Order{}, err
		}

	case StatusCancelled:
		if m.stock.Deducted(id) {
			return Order{}, inventory.NewConflictError("stock of order %s is already consumed", id)
		}
		next.CancelledAt = &now
		if err := m.stock.Release(ctx, id, func() error {
			return m.store.Update(ctx, next)
		}); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Order{}, err
		}

	default:
		return Order{}, inventory.NewConflictError("order %s cannot move from %s to %s", id, from, target)
	}

	m.logger.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	m.publish(ctx, events.New(events.OrderStatusChanged, id, statusChange{
		OrderID:     id,
		OrderNumber: next.Number,
		From:        from,
		To:          target,
	}))
	return next, nil
}

type statusChange struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	From        Status `json:"from"`
	To          Status `json:"to"`
}

type paymentChange struct {
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	From        PaymentStatus `json:"from"`
	To          PaymentStatus `json:"to"`
}

// FieldsUpdate carries metadata changes. Nil fields are left untouched.
type FieldsUpdate struct {
	PaymentStatus *string `json:"paymentStatus,omitempty"`
	PaymentMethod *string `json:"paymentMethod,omitempty"`
	CustomerName  *string `json:"customerName,omitempty"`
	TableNumber   *string `json:"tableNumber,omitempty"`
	OrderType     *string `json:"orderType,omitempty"`
}

// UpdateFields changes order metadata. It never touches stock.
func (m *Manager) UpdateFields(ctx context.Context, id string, upd FieldsUpdate) (Order, error) {
	release, err := m.locks.Acquire(ctx, id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	o, err := m.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	now := m.now().UTC()
	next := o.Clone()

	var payment *paymentChange
	if upd.PaymentStatus != nil {
		to, err := ParsePaymentStatus(*upd.PaymentStatus)
		if err != nil {
			return Order{}, err
		}
		if to != o.PaymentStatus {
			if err := checkPayment(o, to); err != nil {
				return Order{}, err
			}
			next.PaymentStatus = to
			next.audit(now, "paymentStatus", string(o.PaymentStatus), string(to))
			payment = &paymentChange{OrderID: id, OrderNumber: o.Number, From: o.PaymentStatus, To: to}
		}
	}
	if upd.PaymentMethod != nil {
		if next.PaymentMethod, err = ParsePaymentMethod(*upd.PaymentMethod); err != nil {
			return Order{}, err
		}
	}
	if upd.OrderType != nil {
		if next.Type, err = ParseType(*upd.OrderType); err != nil {
			return Order{}, err
		}
	}
	if upd.CustomerName != nil {
		next.CustomerName = *upd.CustomerName
	}
	if upd.TableNumber != nil {
		next.TableNumber = *upd.TableNumber
	}
	next.UpdatedAt = now

	if err := m.store.Update(ctx, next); err != nil {
		return Order{}, err
	}
	if payment != nil {
		m.logger.Info("Order payment changed",
			zap.String("order_id", id),
			zap.String("from", string(payment.From)),
			zap.String("to", string(payment.To)),
		)
		m.publish(ctx, events.New(events.OrderPaymentChange, id, *payment))
	}
	return next, nil
}

// checkPayment allows UNPAID<->PAID and PAID<->REFUNDED; a cancelled order
// cannot be paid.
func checkPayment(o Order, to PaymentStatus) error {
	from := o.PaymentStatus
	switch {
	case from == PaymentUnpaid && to == PaymentPaid:
		if o.Status == StatusCancelled {
			return inventory.NewConflictError("cancelled order %s cannot be paid", o.ID)
		}
		return nil
	case from == PaymentPaid && (to == PaymentUnpaid || to == PaymentRefunded):
		return nil
	case from == PaymentRefunded && to == PaymentPaid:
		return nil
	}
	return inventory.NewConflictError("payment of order %s cannot move from %s to %s", o.ID, from, to)
}

// Amend replaces the items of a PENDING order. The new demand is checked with
// the order's current reservation handed back, and swapped in atomically.
func (m *Manager) Amend(ctx context.Context, id string, reqs []ItemRequest) (Order, error) {
	ctx, span := m.tracer.Start(ctx, "order_amend")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	release, err := m.locks.Acquire(ctx, id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	o, err := m.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPending {
		return Order{}, inventory.NewConflictError("order %s is %s; only PENDING orders can be amended", id, o.Status)
	}
	items, err := m.priceItems(reqs)
	if err != nil {
		return Order{}, err
	}

	now := m.now().UTC()
	next := o.Clone()
	next.Items = items
	next.Subtotal, next.Tax, next.Total = Totals(items)
	next.UpdatedAt = now
	next.audit(now, "items", o.Total.StringFixed(2), next.Total.StringFixed(2))

	_, err = m.stock.Commit(ctx, id, next.Lines(), "", func(demand inventory.Demand) error {
		next.Consumption = demand
		return m.store.Update(ctx, next)
	})
	if err != nil {
		var short *inventory.InsufficientStockError
		if errors.As(err, &short) {
			m.rejected.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}

	m.logger.Info("Order amended", zap.String("order_id", id), zap.Int("items", len(items)))
	m.publish(ctx, events.New(events.OrderItemsAmended, id, next))
	return next, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Order, error) {
	return m.store.Get(ctx, id)
}

// List returns orders newest first. An empty status lists all.
func (m *Manager) List(ctx context.Context, status string) ([]Order, error) {
	var filter Status
	if status != "" {
		s, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter = s
	}
	return m.store.List(ctx, filter)
}

// Rebuild reinstalls the reservations of every persisted PENDING or PREPARING order.
func (m *Manager) Rebuild(ctx context.Context) error {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active orders: %w", err)
	}
	for _, o := range active {
		m.stock.RestoreReservation(o.ID, o.Lines(), o.Consumption)
	}
	m.logger.Info("Order reservations rebuilt", zap.Int("orders", len(active)))
	return nil
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Error("Failed to publish event",
			zap.String("event_type", ev.Type),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
	}
}
