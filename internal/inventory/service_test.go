package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipestock/internal/events"
	"recipestock/internal/inventory"
	"recipestock/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store     *memory.Store
	service   *inventory.Service
	publisher *recordingPublisher
}

// newFixture stocks 10 cheese (min 4) and 20 bread and registers
// A (3 cheese), B (2 cheese, 1 bread) and water (no recipe).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), publisher: &recordingPublisher{}}
	f.service = inventory.NewService(f.store, f.publisher, zap.NewNop(), otel.Tracer("test"), time.Second)
	require.NoError(t, f.service.Load(ctx))

	for _, in := range []inventory.Ingredient{
		{ID: "cheese", Name: "Cheese", Unit: "slice", MinStock: dec("4")},
		{ID: "bread", Name: "Bread", Unit: "slice", MinStock: dec("2")},
	} {
		_, err := f.service.UpsertIngredient(ctx, in)
		require.NoError(t, err)
	}
	_, err := f.service.Restock(ctx, "cheese", dec("10"), "opening")
	require.NoError(t, err)
	_, err = f.service.Restock(ctx, "bread", dec("20"), "opening")
	require.NoError(t, err)

	for _, it := range []inventory.MenuItem{
		{ID: "A", Name: "Cheese plate", Price: dec("100"), Active: true},
		{ID: "B", Name: "Toastie", Price: dec("80"), Active: true},
		{ID: "water", Name: "Water", Price: dec("10"), Active: true},
	} {
		require.NoError(t, f.service.UpsertMenuItem(ctx, it))
	}
	require.NoError(t, f.service.ReplaceRecipe(ctx, "A", []inventory.RecipeLine{
		{IngredientID: "cheese", Quantity: dec("3")},
	}))
	require.NoError(t, f.service.ReplaceRecipe(ctx, "B", []inventory.RecipeLine{
		{IngredientID: "cheese", Quantity: dec("2")},
		{IngredientID: "bread", Quantity: dec("1")},
	}))
	f.publisher.events = nil
	return f
}

func (f *fixture) servings(t *testing.T) map[string]int64 {
	t.Helper()
	alloc, err := f.service.AllServings(context.Background())
	require.NoError(t, err)
	out := make(map[string]int64, len(alloc.Servings))
	for id, s := range alloc.Servings {
		out[id] = s.Int()
	}
	return out
}

func noop(inventory.Demand) error { return nil }

func TestService_AllServings(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, map[string]int64{"A": 3, "B": 5, "water": -1}, f.servings(t))

	s, err := f.service.ServingsFor(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Int())

	_, err = f.service.ServingsFor(context.Background(), "nope")
	var nf *inventory.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_CommitReducesAvailabilityAndReleaseRestoresIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	demand, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 2}}, "", noop)
	require.NoError(t, err)
	assert.True(t, demand["cheese"].Equal(dec("6")))
	assert.Equal(t, map[string]int64{"A": 1, "B": 2, "water": -1}, f.servings(t))

	view, err := f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, view.Reserved.Equal(dec("6")))
	assert.True(t, view.Available.Equal(dec("4")))
	assert.True(t, view.OnHand.Equal(dec("10")))

	require.NoError(t, f.service.Release(ctx, "o1", func() error { return nil }))
	assert.Equal(t, map[string]int64{"A": 3, "B": 5, "water": -1}, f.servings(t))
}

func TestService_CommitInsufficientDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	called := false

	_, err := f.service.Commit(context.Background(), "o1", []inventory.Line{{MenuItemID: "A", Quantity: 4}}, "", func(inventory.Demand) error {
		called = true
		return nil
	})

	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	require.Len(t, ise.Shortages, 1)
	assert.Equal(t, "cheese", ise.Shortages[0].IngredientID)
	assert.Equal(t, "Cheese", ise.Shortages[0].Name)
	assert.True(t, ise.Shortages[0].Available.Equal(dec("10")))
	assert.True(t, ise.Shortages[0].Required.Equal(dec("12")))
	assert.False(t, called)
	_, held := f.service.Reservation("o1")
	assert.False(t, held)
}

func TestService_CommitPersistFailureKeepsPreviousState(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")

	_, err := f.service.Commit(context.Background(), "o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, "", func(inventory.Demand) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), f.servings(t)["A"])
}

func TestService_CommitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ve *inventory.ValidationError

	_, err := f.service.Commit(ctx, "o1", nil, "", noop)
	assert.ErrorAs(t, err, &ve)

	_, err = f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "ghost", Quantity: 1}}, "", noop)
	assert.ErrorAs(t, err, &ve)
}

func TestService_RecommitExcludesPreviousReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 3}}, "", noop)
	require.NoError(t, err)

	// 9 cheese are held by o1 itself; swapping to 5 B needs 10.
	_, err = f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "B", Quantity: 5}}, "", noop)
	require.NoError(t, err)

	r, ok := f.service.Reservation("o1")
	require.True(t, ok)
	assert.True(t, r.Demand["cheese"].Equal(dec("10")))
	assert.Equal(t, int64(0), f.servings(t)["A"])
}

func TestService_CommitsOnDisjointIngredientsRunInParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.UpsertMenuItem(ctx, inventory.MenuItem{ID: "toast", Name: "Toast", Price: dec("20"), Active: true}))
	require.NoError(t, f.service.ReplaceRecipe(ctx, "toast", []inventory.RecipeLine{
		{IngredientID: "bread", Quantity: dec("2")},
	}))

	entered := make(chan struct{})
	hold := make(chan struct{})
	cheeseDone := make(chan error, 1)
	go func() {
		_, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, "", func(inventory.Demand) error {
			close(entered)
			<-hold
			return nil
		})
		cheeseDone <- err
	}()
	<-entered

	// o1 still holds the cheese lock; bread is free.
	breadDone := make(chan error, 1)
	go func() {
		_, err := f.service.Commit(ctx, "o2", []inventory.Line{{MenuItemID: "toast", Quantity: 1}}, "", noop)
		breadDone <- err
	}()
	select {
	case err := <-breadDone:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		close(hold)
		t.Fatal("commit on bread waited for the cheese lock")
	}

	close(hold)
	require.NoError(t, <-cheeseDone)
	_, held := f.service.Reservation("o1")
	assert.True(t, held)
	_, held = f.service.Reservation("o2")
	assert.True(t, held)
}

func TestService_ConsumeDeductsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	demand, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "B", Quantity: 2}}, "", noop)
	require.NoError(t, err)

	persisted := 0
	persist := func() error { persisted++; return nil }

	applied, err := f.service.Consume(ctx, "o1", demand, persist)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, f.service.Deducted("o1"))

	applied, err = f.service.Consume(ctx, "o1", demand, persist)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 2, persisted)

	cheese, err := f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.OnHand.Equal(dec("6")))
	assert.True(t, cheese.Reserved.IsZero())

	txs, err := f.service.Transactions(ctx, "cheese", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, inventory.TxDeduction, txs[0].Kind)
	assert.Equal(t, "o1", txs[0].Reference)
	assert.Equal(t, inventory.TxRestock, txs[1].Kind)
}

func TestService_ConsumePersistFailureDoesNotCountStockTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	demand, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, "", noop)
	require.NoError(t, err)

	applied, err := f.service.Consume(ctx, "o1", demand, func() error { return errors.New("write failed") })
	require.Error(t, err)
	assert.True(t, applied)
	_, held := f.service.Reservation("o1")
	assert.False(t, held)

	cheese, err := f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.OnHand.Equal(dec("7")), "on hand %s", cheese.OnHand)
	assert.True(t, cheese.Reserved.IsZero())
	assert.True(t, cheese.Available.Equal(dec("7")), "available %s", cheese.Available)

	all, err := f.service.AllServings(ctx)
	require.NoError(t, err)
	assert.Equal(t, inventory.Limited(2), all.Servings["A"])

	// A restart before the retry must not bring the reservation back.
	f.service.RestoreReservation("o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, demand)
	_, held = f.service.Reservation("o1")
	assert.False(t, held)

	applied, err = f.service.Consume(ctx, "o1", demand, func() error { return nil })
	require.NoError(t, err)
	assert.False(t, applied)

	cheese, err = f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.OnHand.Equal(dec("7")))
}

func TestService_StockAlertsOnCrossing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Adjust(ctx, "cheese", dec("3"), "count")
	require.NoError(t, err)
	// Staying low does not alert again.
	_, err = f.service.Adjust(ctx, "cheese", dec("2"), "count")
	require.NoError(t, err)
	_, err = f.service.Adjust(ctx, "cheese", dec("0"), "count")
	require.NoError(t, err)
	_, err = f.service.Restock(ctx, "cheese", dec("50"), "delivery")
	require.NoError(t, err)

	assert.Equal(t, []string{events.StockLow, events.StockOut}, f.publisher.types())
}

func TestService_DeductionCanAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	demand, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 2}}, "", noop)
	require.NoError(t, err)
	_, err = f.service.Consume(ctx, "o1", demand, func() error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{events.StockLow}, f.publisher.types())
	assert.Equal(t, "cheese", f.publisher.events[0].Key)
}

func TestService_LedgerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ve *inventory.ValidationError
	var nf *inventory.NotFoundError

	_, err := f.service.Restock(ctx, "cheese", dec("0"), "")
	assert.ErrorAs(t, err, &ve)
	_, err = f.service.Adjust(ctx, "cheese", dec("-1"), "")
	assert.ErrorAs(t, err, &ve)
	_, err = f.service.Restock(ctx, "saffron", dec("1"), "")
	assert.ErrorAs(t, err, &nf)
	_, err = f.service.Transactions(ctx, "saffron", 10)
	assert.ErrorAs(t, err, &nf)
}

func TestService_UpsertIngredientKeepsOnHand(t *testing.T) {
	f := newFixture(t)
	view, err := f.service.UpsertIngredient(context.Background(), inventory.Ingredient{
		ID: "cheese", Name: "Cheddar", Unit: "slice", MinStock: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Cheddar", view.Name)
	assert.True(t, view.OnHand.Equal(dec("10")))
	assert.Equal(t, inventory.StatusInStock, view.Status)
}

func TestService_CartReservationIsTentative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alloc, err := f.service.UpdateCart(ctx, "s1", []inventory.Line{{MenuItemID: "A", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), alloc.Servings["A"].Int())
	assert.Equal(t, int64(2), alloc.Servings["B"].Int())

	// Other sessions still see the full pool.
	assert.Equal(t, int64(3), f.servings(t)["A"])

	cheese, err := f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.InCarts.Equal(dec("6")))
	assert.True(t, cheese.Reserved.IsZero())

	assert.True(t, f.service.ReleaseCart(ctx, "s1"))
	assert.False(t, f.service.ReleaseCart(ctx, "s1"))
}

func TestService_ServingsWithCartHoldsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alloc, err := f.service.ServingsWithCart(ctx, []inventory.Line{{MenuItemID: "A", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), alloc.Servings["A"].Int())

	cheese, err := f.service.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.InCarts.IsZero())
	assert.Empty(t, f.publisher.events)
}

func TestService_CommitReleasesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.ReserveCart(ctx, "s1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}))
	_, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, "s1", noop)
	require.NoError(t, err)

	_, held := f.service.Reservation(inventory.CartReservationID("s1"))
	assert.False(t, held)
}

func TestService_ReserveCartValidation(t *testing.T) {
	f := newFixture(t)
	var ve *inventory.ValidationError
	err := f.service.ReserveCart(context.Background(), "", []inventory.Line{{MenuItemID: "A", Quantity: 1}})
	assert.ErrorAs(t, err, &ve)
}

func TestService_ReleaseIdleCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.ReserveCart(ctx, "s1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}))
	require.NoError(t, f.service.ReserveCart(ctx, "s2", []inventory.Line{{MenuItemID: "B", Quantity: 1}}))

	assert.Equal(t, 0, f.service.ReleaseIdleCarts(ctx, time.Hour))
	// A negative ttl puts the cutoff in the future so every cart is idle.
	assert.Equal(t, 2, f.service.ReleaseIdleCarts(ctx, -time.Minute))
}

func TestService_RecipeView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lines, err := f.service.Recipe(ctx, "B")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "cheese", lines[0].IngredientID)
	assert.Equal(t, "Cheese", lines[0].Name)
	assert.True(t, lines[0].CurrentStock.Equal(dec("10")))

	water, err := f.service.Recipe(ctx, "water")
	require.NoError(t, err)
	assert.Empty(t, water)

	_, err = f.service.Recipe(ctx, "nope")
	var nf *inventory.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_RecipeLineEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ce *inventory.ConflictError
	err := f.service.AddRecipeLine(ctx, inventory.RecipeLine{MenuItemID: "A", IngredientID: "cheese", Quantity: dec("1")})
	assert.ErrorAs(t, err, &ce)

	var ve *inventory.ValidationError
	err = f.service.AddRecipeLine(ctx, inventory.RecipeLine{MenuItemID: "A", IngredientID: "saffron", Quantity: dec("1")})
	assert.ErrorAs(t, err, &ve)

	require.NoError(t, f.service.AddRecipeLine(ctx, inventory.RecipeLine{MenuItemID: "water", IngredientID: "bread", Quantity: dec("5")}))
	assert.Equal(t, int64(4), f.servings(t)["water"])

	require.NoError(t, f.service.RemoveRecipeLine(ctx, "water", "bread"))
	assert.Equal(t, int64(-1), f.servings(t)["water"])

	var nf *inventory.NotFoundError
	assert.ErrorAs(t, f.service.RemoveRecipeLine(ctx, "water", "bread"), &nf)
}

func TestService_ReloadFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	demand, err := f.service.Commit(ctx, "o1", []inventory.Line{{MenuItemID: "A", Quantity: 1}}, "", noop)
	require.NoError(t, err)
	_, err = f.service.Consume(ctx, "o1", demand, func() error { return nil })
	require.NoError(t, err)

	restarted := inventory.NewService(f.store, nil, zap.NewNop(), otel.Tracer("test"), time.Second)
	require.NoError(t, restarted.Load(ctx))
	assert.True(t, restarted.Deducted("o1"))

	cheese, err := restarted.Ingredient(ctx, "cheese")
	require.NoError(t, err)
	assert.True(t, cheese.OnHand.Equal(dec("7")))
	assert.Len(t, restarted.MenuItems(), 3)
}

func TestService_ConcurrentCommitsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var ok, rejected int32

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "o" + string(rune('a'+i))
			_, err := f.service.Commit(ctx, id, []inventory.Line{{MenuItemID: "A", Quantity: 2}}, "", noop)
			var ise *inventory.InsufficientStockError
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.As(err, &ise):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// 10 cheese, 6 per order.
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(7), rejected)
}
