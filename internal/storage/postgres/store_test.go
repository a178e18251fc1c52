package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"recipestock/internal/inventory"
	"recipestock/internal/order"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ inventory.Store = (*Store)(nil)
	_ order.Store     = (*Store)(nil)
)

// newTestStore connects to RECIPESTOCK_TEST_DATABASE_URL and empties every table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("RECIPESTOCK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RECIPESTOCK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool)
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE stock_transactions, recipe_lines, menu_items, ingredients, orders, order_counters`)
	require.NoError(t, err)
	return store
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.SaveIngredient(ctx, inventory.Ingredient{
		ID: "flour", Name: "Flour", Unit: "kg", OnHand: decimal.Zero, MinStock: decimal.RequireFromString("0.5"), UpdatedAt: now,
	}))
	require.NoError(t, store.ApplyTransactions(ctx, []inventory.StockTransaction{
		{ID: "00000000-0000-0000-0000-000000000001", IngredientID: "flour", Kind: inventory.TxRestock,
			Delta: decimal.RequireFromString("0.9"), Resulting: decimal.RequireFromString("0.9"), CreatedAt: now},
		{ID: "00000000-0000-0000-0000-000000000002", IngredientID: "flour", Kind: inventory.TxDeduction,
			Delta: decimal.RequireFromString("-0.3"), Resulting: decimal.RequireFromString("0.6"), Reference: "order-1", CreatedAt: now.Add(time.Second)},
	}))

	ingredients, err := store.LoadIngredients(ctx)
	require.NoError(t, err)
	require.Len(t, ingredients, 1)
	assert.True(t, ingredients[0].OnHand.Equal(decimal.RequireFromString("0.6")))

	txs, err := store.Transactions(ctx, "flour", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, inventory.TxDeduction, txs[0].Kind)

	refs, err := store.DeductionReferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, refs)
}

func TestStore_RecipesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveIngredient(ctx, inventory.Ingredient{ID: "bread", Name: "Bread", UpdatedAt: time.Now()}))
	require.NoError(t, store.SaveMenuItem(ctx, inventory.MenuItem{ID: "toast", Name: "Toast", Price: decimal.RequireFromString("4.50"), Active: true}))
	require.NoError(t, store.ReplaceRecipe(ctx, "toast", []inventory.RecipeLine{
		{MenuItemID: "toast", IngredientID: "bread", Quantity: decimal.RequireFromString("2")},
	}))

	items, err := store.LoadMenuItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Price.Equal(decimal.RequireFromString("4.5")))

	lines, err := store.LoadRecipes(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "bread", lines[0].IngredientID)

	require.NoError(t, store.DeleteMenuItem(ctx, "toast"))
	lines, err = store.LoadRecipes(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStore_Orders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.NextOrderNumber(ctx, day)
	require.NoError(t, err)
	second, err := store.NextOrderNumber(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "ORD_20250601_001", first)
	assert.Equal(t, "ORD_20250601_002", second)

	o := order.Order{
		ID: "11111111-1111-1111-1111-111111111111", Number: first,
		Status: order.StatusPending, PaymentStatus: order.PaymentUnpaid,
		PaymentMethod: order.MethodCash, Type: order.TypeDineIn,
		Items:       []order.Item{{MenuItemID: "toast", Name: "Toast", Quantity: 1, UnitPrice: decimal.RequireFromString("4.50"), Subtotal: decimal.RequireFromString("4.50")}},
		Subtotal:    decimal.RequireFromString("4.50"),
		Tax:         decimal.RequireFromString("0.54"),
		Total:       decimal.RequireFromString("5.04"),
		Consumption: inventory.Demand{"bread": decimal.RequireFromString("2")},
		CreatedAt:   day,
		UpdatedAt:   day,
	}
	require.NoError(t, store.Create(ctx, o))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Consumption["bread"].Equal(decimal.RequireFromString("2")))

	done := day.Add(time.Hour)
	o.Status = order.StatusCompleted
	o.CompletedAt = &done
	require.NoError(t, store.Update(ctx, o))

	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("5.04")))

	completed, err := store.List(ctx, order.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	var nf *inventory.NotFoundError
	_, err = store.Get(ctx, "22222222-2222-2222-2222-222222222222")
	assert.ErrorAs(t, err, &nf)
	o.ID = "22222222-2222-2222-2222-222222222222"
	assert.ErrorAs(t, store.Update(ctx, o), &nf)
}
