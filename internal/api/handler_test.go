package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recipestock/internal/api"
	"recipestock/internal/inventory"
	"recipestock/internal/order"
	"recipestock/internal/storage/memory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := memory.New()
	logger := zap.NewNop()

	inv := inventory.NewService(store, nil, logger, otel.Tracer("test"), time.Second)
	require.NoError(t, inv.Load(ctx))
	orders, err := order.NewManager(inv, store, nil, logger, otel.Tracer("test"), otel.Meter("test"), time.Second)
	require.NoError(t, err)

	_, err = inv.UpsertIngredient(ctx, inventory.Ingredient{ID: "cheese", Name: "Cheese", Unit: "slice", MinStock: decimal.NewFromInt(2)})
	require.NoError(t, err)
	_, err = inv.Restock(ctx, "cheese", decimal.NewFromInt(10), "")
	require.NoError(t, err)
	require.NoError(t, inv.UpsertMenuItem(ctx, inventory.MenuItem{ID: "A", Name: "Cheese plate", Price: decimal.NewFromInt(100), Active: true}))
	require.NoError(t, inv.UpsertMenuItem(ctx, inventory.MenuItem{ID: "water", Name: "Water", Price: decimal.NewFromInt(5), Active: true}))
	require.NoError(t, inv.ReplaceRecipe(ctx, "A", []inventory.RecipeLine{{IngredientID: "cheese", Quantity: decimal.NewFromInt(3)}}))

	h := api.NewAPIHandler(inv, orders, func() order.Settings { return order.Settings{} }, logger)
	return api.NewRouter(h, logger)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	w := do(t, newTestRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServingsEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/recipes/servings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"A":3,"water":-1}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/recipes/servings/cart", []map[string]any{{"menuItemId": "A", "quantity": 2}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"A":1,"water":-1}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/recipes/servings/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Body.String())

	w = do(t, router, http.MethodGet, "/api/recipes/servings/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/recipes/servings/cart", []map[string]any{{"menuItemId": "A", "quantity": 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "items[0].quantity", decode[map[string]any](t, w)["field"])
}

func TestRecipeEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/recipes/water/ingredients", map[string]any{"inventoryItemId": "cheese", "quantity": "1"})
	require.Equal(t, http.StatusCreated, w.Code)
	lines := decode[[]map[string]any](t, w)
	require.Len(t, lines, 1)
	assert.Equal(t, "Cheese", lines[0]["name"])

	w = do(t, router, http.MethodPost, "/api/recipes/water/ingredients", map[string]any{"inventoryItemId": "cheese", "quantity": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodDelete, "/api/recipes/water/ingredients/cheese", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodPut, "/api/recipes/A", []map[string]any{{"inventoryItemId": "ghost", "quantity": "1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/orders", map[string]any{
		"orderType": "DINE_IN", "paymentMethod": "CASH",
		"items": []map[string]any{{"menuItemId": "A", "quantity": 4}},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	shortages, ok := body["shortages"].([]any)
	require.True(t, ok)
	require.Len(t, shortages, 1)
	assert.Equal(t, "cheese", shortages[0].(map[string]any)["ingredientId"])

	w = do(t, router, http.MethodPost, "/api/orders", map[string]any{
		"orderType": "DINE_IN", "paymentMethod": "CASH",
		"items": []map[string]any{{"menuItemId": "A", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[order.Order](t, w)
	assert.Equal(t, order.StatusPending, created.Status)
	assert.True(t, created.Total.Equal(decimal.NewFromInt(112)))

	w = do(t, router, http.MethodPatch, "/api/orders/"+created.ID+"/status", map[string]any{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPatch, "/api/orders/"+created.ID+"/status", map[string]any{"status": "DONE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPatch, "/api/orders/"+created.ID+"/status", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, status := range []string{"PREPARING", "COMPLETED"} {
		w = do(t, router, http.MethodPatch, "/api/orders/"+created.ID+"/status", map[string]any{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/api/inventory/cheese", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cheese := decode[map[string]any](t, w)
	assert.Equal(t, "7", cheese["currentStock"])

	w = do(t, router, http.MethodPatch, "/api/orders/"+created.ID, map[string]any{"paymentStatus": "PAID"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.PaymentPaid, decode[order.Order](t, w).PaymentStatus)

	w = do(t, router, http.MethodGet, "/api/orders?status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]order.Order](t, w), 1)

	w = do(t, router, http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPut, "/api/inventory/bread", map[string]any{"name": "Bread", "unit": "slice", "minStock": "5"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OUT_OF_STOCK", decode[map[string]any](t, w)["status"])

	w = do(t, router, http.MethodPost, "/api/inventory/bread/restock", map[string]any{"quantity": "12", "note": "delivery"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPost, "/api/inventory/bread/adjust", map[string]any{"quantity": "4"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "-8", decode[map[string]any](t, w)["delta"])

	w = do(t, router, http.MethodGet, "/api/inventory/bread/transactions?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[[]map[string]any](t, w)
	require.Len(t, txs, 1)
	assert.Equal(t, "ADJUSTMENT", txs[0]["kind"])

	w = do(t, router, http.MethodGet, "/api/inventory/bread/transactions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/inventory/bread/restock", map[string]any{"quantity": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 2)
}

func TestServingsWithCartIsReadOnly(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/recipes/servings/cart?sessionId=s1", []map[string]any{{"menuItemId": "A", "quantity": 1}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/inventory/cheese", nil)
	assert.Equal(t, "0", decode[map[string]any](t, w)["inCarts"])
}

func TestCartUpdateAndRelease(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPut, "/api/carts/s1", []map[string]any{{"menuItemId": "A", "quantity": 1}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"A":2,"water":-1}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/inventory/cheese", nil)
	assert.Equal(t, "3", decode[map[string]any](t, w)["inCarts"])

	w = do(t, router, http.MethodDelete, "/api/carts/s1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/api/inventory/cheese", nil)
	assert.Equal(t, "0", decode[map[string]any](t, w)["inCarts"])
}

func TestCORSPreflight(t *testing.T) {
	w := do(t, newTestRouter(t), http.MethodOptions, "/api/orders", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
