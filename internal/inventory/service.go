package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"recipestock/internal/events"
	"recipestock/internal/platform/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Service is the inventory facade used by the HTTP API, the order manager and
// the inventory feed consumer.
//
// Every ledger mutation and every order reservation change holds the locks of
// the ingredients it touches. Availability queries read without those locks.
type Service struct {
	ledger    *Ledger
	recipes   *RecipeTable
	tracker   *Tracker
	locks     *LockSet
	publisher events.Publisher
	logger    observability.Logger
	tracer    observability.Tracer
	now       func() time.Time
}

// NewService creates a new inventory service instance with explicit dependencies
func NewService(store Store, publisher events.Publisher, logger observability.Logger, tracer observability.Tracer, lockTimeout time.Duration) *Service {
	return &Service{
		ledger:    NewLedger(store),
		recipes:   NewRecipeTable(store),
		tracker:   NewTracker(),
		locks:     NewLockSet(lockTimeout),
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Load reads the ledger and the recipe table from the store.
func (s *Service) Load(ctx context.Context) error {
	if err := s.ledger.Load(ctx); err != nil {
		return err
	}
	if err := s.recipes.Load(ctx); err != nil {
		return err
	}
	s.logger.Info("Inventory loaded",
		zap.Int("ingredients", len(s.ledger.List())),
		zap.Int("menu_items", len(s.recipes.MenuItems())),
	)
	return nil
}

func (s *Service) snapshot() Snapshot {
	return Snapshot{
		OnHand:    s.ledger.OnHand(),
		Recipes:   s.recipes.Snapshot(),
		Committed: s.tracker.CommittedDemand(),
	}
}

// AllServings returns the remaining servings of every menu item.
func (s *Service) AllServings(ctx context.Context) (Allocation, error) {
	_, span := s.tracer.Start(ctx, "servings_all")
	defer span.End()

	alloc, err := Allocate(s.snapshot(), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Allocation{}, err
	}
	s.logWarnings(alloc.Warnings)
	span.SetAttributes(attribute.Int("servings.menu_items", len(alloc.Servings)))
	return alloc, nil
}

// ServingsWithCart returns the remaining servings with the cart's own demand
// taken out. It reads a snapshot and changes nothing.
func (s *Service) ServingsWithCart(ctx context.Context, cart []Line) (Allocation, error) {
	_, span := s.tracer.Start(ctx, "servings_with_cart")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.lines", len(cart)))

	alloc, err := Allocate(s.snapshot(), cart)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Allocation{}, err
	}
	s.logWarnings(alloc.Warnings)
	return alloc, nil
}

// ServingsFor returns the remaining servings of one menu item.
func (s *Service) ServingsFor(ctx context.Context, menuItemID string) (Servings, error) {
	if _, ok := s.recipes.MenuItem(menuItemID); !ok {
		return Servings{}, &NotFoundError{Resource: "menu item", ID: menuItemID}
	}
	alloc, err := s.AllServings(ctx)
	if err != nil {
		return Servings{}, err
	}
	return alloc.Servings[menuItemID], nil
}

func (s *Service) logWarnings(warnings []DataIntegrityWarning) {
	for _, w := range warnings {
		s.logger.Warn("Inventory data integrity warning",
			zap.String("ingredient_id", w.IngredientID),
			zap.String("on_hand", w.OnHand.String()),
			zap.String("reason", w.Message),
		)
	}
}

// RecipeIngredient is a recipe line joined with its ledger row.
type RecipeIngredient struct {
	IngredientID string          `json:"inventoryItemId"`
	Quantity     decimal.Decimal `json:"quantity"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	Status       StockStatus     `json:"status"`
}

func (s *Service) Recipe(_ context.Context, menuItemID string) ([]RecipeIngredient, error) {
	lines, err := s.recipes.Recipe(menuItemID)
	if err != nil {
		return nil, err
	}
	out := make([]RecipeIngredient, 0, len(lines))
	for _, rl := range lines {
		ri := RecipeIngredient{
			IngredientID: rl.IngredientID,
			Quantity:     rl.Quantity,
			Status:       StatusOutOfStock,
		}
		if in, ok := s.ledger.Get(rl.IngredientID); ok {
			ri.Name = in.Name
			ri.Unit = in.Unit
			ri.CurrentStock = in.OnHand
			ri.Status = in.Status()
		}
		out = append(out, ri)
	}
	return out, nil
}

// ReplaceRecipe installs lines as the full recipe of a menu item. Existing
// reservations keep the demand they were made with.
func (s *Service) ReplaceRecipe(ctx context.Context, menuItemID string, lines []RecipeLine) error {
	for i, rl := range lines {
		if rl.IngredientID != "" && !s.ledger.Exists(rl.IngredientID) {
			return NewValidationError(fmt.Sprintf("lines[%d].inventoryItemId", i), "unknown ingredient %q", rl.IngredientID)
		}
	}
	if err := s.recipes.ReplaceRecipe(ctx, menuItemID, lines); err != nil {
		return err
	}
	s.logger.Info("Recipe replaced", zap.String("menu_item_id", menuItemID), zap.Int("lines", len(lines)))
	return nil
}

func (s *Service) AddRecipeLine(ctx context.Context, line RecipeLine) error {
	if line.IngredientID != "" && !s.ledger.Exists(line.IngredientID) {
		return NewValidationError("inventoryItemId", "unknown ingredient %q", line.IngredientID)
	}
	return s.recipes.AddLine(ctx, line)
}

func (s *Service) RemoveRecipeLine(ctx context.Context, menuItemID, ingredientID string) error {
	return s.recipes.RemoveLine(ctx, menuItemID, ingredientID)
}

func (s *Service) MenuItem(id string) (MenuItem, bool) {
	return s.recipes.MenuItem(id)
}

func (s *Service) MenuItems() []MenuItem {
	return s.recipes.MenuItems()
}

func (s *Service) UpsertMenuItem(ctx context.Context, item MenuItem) error {
	return s.recipes.UpsertMenuItem(ctx, item)
}

func (s *Service) RemoveMenuItem(ctx context.Context, id string) error {
	return s.recipes.RemoveMenuItem(ctx, id)
}

// IngredientView is a ledger row with its reservation totals.
type IngredientView struct {
	Ingredient
	Status    StockStatus     `json:"status"`
	Reserved  decimal.Decimal `json:"reserved"`
	InCarts   decimal.Decimal `json:"inCarts"`
	Available decimal.Decimal `json:"available"`
}

func (s *Service) viewOf(in Ingredient, committed, tentative Demand) IngredientView {
	onHand := decimal.Max(in.OnHand, decimal.Zero)
	return IngredientView{
		Ingredient: in,
		Status:     in.Status(),
		Reserved:   committed[in.ID],
		InCarts:    tentative[in.ID],
		Available:  decimal.Max(onHand.Sub(committed[in.ID]), decimal.Zero),
	}
}

func (s *Service) Ingredients(_ context.Context) []IngredientView {
	committed := s.tracker.CommittedDemand()
	tentative := s.tracker.TentativeDemand()
	list := s.ledger.List()
	out := make([]IngredientView, 0, len(list))
	for _, in := range list {
		out = append(out, s.viewOf(in, committed, tentative))
	}
	return out
}

func (s *Service) Ingredient(_ context.Context, id string) (IngredientView, error) {
	in, ok := s.ledger.Get(id)
	if !ok {
		return IngredientView{}, &NotFoundError{Resource: "ingredient", ID: id}
	}
	return s.viewOf(in, s.tracker.CommittedDemand(), s.tracker.TentativeDemand()), nil
}

// UpsertIngredient creates or updates ingredient metadata.
func (s *Service) UpsertIngredient(ctx context.Context, meta Ingredient) (IngredientView, error) {
	release, err := s.locks.Acquire(ctx, meta.ID)
	if err != nil {
		return IngredientView{}, err
	}
	defer release()

	before := s.statuses([]string{meta.ID})
	in, err := s.ledger.Upsert(ctx, meta)
	if err != nil {
		return IngredientView{}, err
	}
	s.alertOnCrossing(ctx, before)
	return s.viewOf(in, s.tracker.CommittedDemand(), s.tracker.TentativeDemand()), nil
}

func (s *Service) Restock(ctx context.Context, id string, qty decimal.Decimal, note string) (StockTransaction, error) {
	return s.mutateOne(ctx, "stock_restock", id, func() (StockTransaction, error) {
		return s.ledger.Restock(ctx, id, qty, note)
	})
}

// Adjust records a physical count: on-hand becomes counted.
func (s *Service) Adjust(ctx context.Context, id string, counted decimal.Decimal, note string) (StockTransaction, error) {
	return s.mutateOne(ctx, "stock_adjust", id, func() (StockTransaction, error) {
		return s.ledger.Adjust(ctx, id, counted, note)
	})
}

func (s *Service) mutateOne(ctx context.Context, spanName, id string, fn func() (StockTransaction, error)) (StockTransaction, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("ingredient.id", id))

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StockTransaction{}, err
	}
	defer release()

	before := s.statuses([]string{id})
	tx, err := fn()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StockTransaction{}, err
	}
	s.logger.Info("Stock transaction recorded",
		zap.String("ingredient_id", id),
		zap.String("kind", string(tx.Kind)),
		zap.String("delta", tx.Delta.String()),
		zap.String("resulting", tx.Resulting.String()),
	)
	s.alertOnCrossing(ctx, before)
	return tx, nil
}

func (s *Service) Transactions(ctx context.Context, id string, limit int) ([]StockTransaction, error) {
	return s.ledger.Transactions(ctx, id, limit)
}

// CartReservationID namespaces cart sessions so they never collide with order ids.
func CartReservationID(sessionID string) string {
	return "cart:" + sessionID
}

// ReserveCart replaces the tentative reservation of a cart session. An empty
// cart releases it.
func (s *Service) ReserveCart(_ context.Context, sessionID string, items []Line) error {
	if sessionID == "" {
		return NewValidationError("sessionId", "is required")
	}
	demand, err := s.recipes.DemandFor(items)
	if err != nil {
		return err
	}
	s.tracker.Reserve(Reservation{
		ID:        CartReservationID(sessionID),
		Kind:      KindCart,
		Items:     items,
		Demand:    demand,
		UpdatedAt: s.now().UTC(),
	})
	return nil
}

// UpdateCart stores items as the session's tentative reservation and returns
// the servings that session now sees.
func (s *Service) UpdateCart(ctx context.Context, sessionID string, items []Line) (Allocation, error) {
	if err := s.ReserveCart(ctx, sessionID, items); err != nil {
		return Allocation{}, err
	}
	return s.ServingsWithCart(ctx, items)
}

// ReleaseCart drops the tentative reservation of a cart session.
func (s *Service) ReleaseCart(_ context.Context, sessionID string) bool {
	_, ok := s.tracker.Release(CartReservationID(sessionID))
	return ok
}

// ReleaseIdleCarts releases carts not updated within ttl and returns how many were dropped.
func (s *Service) ReleaseIdleCarts(_ context.Context, ttl time.Duration) int {
	ids := s.tracker.IdleCarts(s.now().Add(-ttl))
	for _, id := range ids {
		s.tracker.Release(id)
	}
	if len(ids) > 0 {
		s.logger.Info("Released idle carts", zap.Int("count", len(ids)))
	}
	return len(ids)
}

// RunCartJanitor releases idle carts every interval until ctx is done.
func (s *Service) RunCartJanitor(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 || ttl <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ReleaseIdleCarts(ctx, ttl)
		}
	}
}

// Commit installs the order reservation for orderID.
//
// Under the locks of every touched ingredient it computes the demand of items,
// checks it against the uncommitted pool (the order's previous reservation is
// handed back first), calls persist and only then swaps the reservation. A cart
// session, when given, is released afterwards. The frozen demand is returned.
func (s *Service) Commit(ctx context.Context, orderID string, items []Line, sessionID string, persist func(Demand) error) (Demand, error) {
	ctx, span := s.tracer.Start(ctx, "reservation_commit")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	demand, err := s.recipes.DemandFor(items)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "must not be empty")
	}

	var exclude Demand
	keys := demand.Ingredients()
	if prev, ok := s.tracker.Get(orderID); ok {
		exclude = prev.Demand
		keys = append(keys, prev.Demand.Ingredients()...)
	}

	release, err := s.locks.Acquire(ctx, keys...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	// Re-read under the locks; the reservation may have changed while waiting.
	if prev, ok := s.tracker.Get(orderID); ok {
		exclude = prev.Demand
	} else {
		exclude = nil
	}

	if shortages := Shortfall(s.snapshot(), demand, exclude); len(shortages) > 0 {
		for i := range shortages {
			if in, ok := s.ledger.Get(shortages[i].IngredientID); ok {
				shortages[i].Name = in.Name
				shortages[i].Unit = in.Unit
			}
		}
		err := &InsufficientStockError{Shortages: shortages}
		span.SetStatus(codes.Error, err.Error())
		s.logger.Info("Reservation rejected", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	if err := persist(demand.Clone()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.tracker.Reserve(Reservation{
		ID:        orderID,
		Kind:      KindOrder,
		Items:     items,
		Demand:    demand,
		UpdatedAt: s.now().UTC(),
	})
	if sessionID != "" {
		s.tracker.Release(CartReservationID(sessionID))
	}

	span.SetAttributes(attribute.Int("reservation.ingredients", len(demand)))
	span.SetStatus(codes.Ok, "reserved")
	return demand, nil
}

// Consume deducts the frozen consumption of an order from the ledger, persists
// the order through persist and releases its reservation. The deduction is
// applied at most once per order id; applied reports whether it happened on
// this call.
func (s *Service) Consume(ctx context.Context, orderID string, consumption Demand, persist func() error) (applied bool, err error) {
	ctx, span := s.tracer.Start(ctx, "stock_consume")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	ids := consumption.Ingredients()
	release, err := s.locks.Acquire(ctx, ids...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	defer release()

	before := s.statuses(ids)
	txs, applied, err := s.ledger.Deduct(ctx, orderID, consumption)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	// Deducted stock covers the order from here on, so its reservation goes
	// even when persist fails. A retry skips the deduction and persists again.
	s.tracker.Release(orderID)

	if applied {
		s.logger.Info("Stock deducted for order",
			zap.String("order_id", orderID),
			zap.Int("transactions", len(txs)),
		)
		s.alertOnCrossing(ctx, before)
	}
	span.SetAttributes(attribute.Bool("stock.deducted", applied))

	if err := persist(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return applied, err
	}
	return applied, nil
}

// Release drops the reservation of an order after persist succeeds. The ledger
// is not touched.
func (s *Service) Release(ctx context.Context, orderID string, persist func() error) error {
	var keys []string
	if r, ok := s.tracker.Get(orderID); ok {
		keys = r.Demand.Ingredients()
	}
	release, err := s.locks.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()

	if err := persist(); err != nil {
		return err
	}
	if r, ok := s.tracker.Release(orderID); ok {
		s.logger.Info("Reservation released",
			zap.String("order_id", orderID),
			zap.Int("ingredients", len(r.Demand)),
		)
	}
	return nil
}

// Deducted reports whether stock was already consumed for the order.
func (s *Service) Deducted(orderID string) bool {
	return s.ledger.Applied(orderID)
}

// RestoreReservation reinstalls a persisted order's reservation at startup.
// Orders whose stock is already deducted hold nothing.
func (s *Service) RestoreReservation(orderID string, items []Line, demand Demand) {
	if s.ledger.Applied(orderID) {
		return
	}
	s.tracker.Reserve(Reservation{
		ID:        orderID,
		Kind:      KindOrder,
		Items:     items,
		Demand:    demand,
		UpdatedAt: s.now().UTC(),
	})
}

// Reservation returns the current reservation held under id.
func (s *Service) Reservation(id string) (Reservation, bool) {
	return s.tracker.Get(id)
}

func (s *Service) statuses(ids []string) map[string]StockStatus {
	out := make(map[string]StockStatus, len(ids))
	for _, id := range ids {
		if in, ok := s.ledger.Get(id); ok {
			out[id] = in.Status()
		}
	}
	return out
}

// StockAlert is the payload of stock.low and stock.out events.
type StockAlert struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	OnHand       decimal.Decimal `json:"currentStock"`
	MinStock     decimal.Decimal `json:"minStock"`
	Status       StockStatus     `json:"status"`
}

// alertOnCrossing publishes an alert for every ingredient of before whose
// status moved into LOW_STOCK or OUT_OF_STOCK.
func (s *Service) alertOnCrossing(ctx context.Context, before map[string]StockStatus) {
	ids := make([]string, 0, len(before))
	for id := range before {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.alertIfCrossed(ctx, id, before[id])
	}
}

func (s *Service) alertIfCrossed(ctx context.Context, id string, prev StockStatus) {
	in, ok := s.ledger.Get(id)
	if !ok {
		return
	}
	cur := in.Status()
	if cur == prev || cur == StatusInStock {
		return
	}
	eventType := events.StockLow
	if cur == StatusOutOfStock {
		eventType = events.StockOut
	}
	s.logger.Warn("Ingredient stock alert",
		zap.String("ingredient_id", id),
		zap.String("status", string(cur)),
		zap.String("on_hand", in.OnHand.String()),
	)
	s.publish(ctx, events.New(eventType, id, StockAlert{
		IngredientID: in.ID,
		Name:         in.Name,
		Unit:         in.Unit,
		OnHand:       in.OnHand,
		MinStock:     in.MinStock,
		Status:       cur,
	}))
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("event_type", ev.Type),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
	}
}

// IsDomainError reports whether err is one of the typed inventory errors.
func IsDomainError(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		is *InsufficientStockError
		ce *ConflictError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &is) || errors.As(err, &ce)
}
