// Package api exposes the inventory and order operations over HTTP.
package api

import (
	"net/http"
	"strconv"

	"recipestock/internal/inventory"
	"recipestock/internal/order"
	"recipestock/internal/platform/observability"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// APIHandler handles all API requests
type APIHandler struct {
	inventory *inventory.Service
	orders    *order.Manager
	settings  func() order.Settings
	logger    observability.Logger
}

// NewAPIHandler creates a new API handler. settings is read on every order
// confirmation.
func NewAPIHandler(inv *inventory.Service, orders *order.Manager, settings func() order.Settings, logger observability.Logger) *APIHandler {
	return &APIHandler{
		inventory: inv,
		orders:    orders,
		settings:  settings,
		logger:    logger,
	}
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/recipes/servings", h.GetAllServings)
		api.POST("/recipes/servings/cart", h.GetServingsWithCart)
		api.GET("/recipes/servings/:menuItemId", h.GetServings)
		api.GET("/recipes/:menuItemId", h.GetRecipe)
		api.PUT("/recipes/:menuItemId", h.ReplaceRecipe)
		api.POST("/recipes/:menuItemId/ingredients", h.AddRecipeLine)
		api.DELETE("/recipes/:menuItemId/ingredients/:inventoryItemId", h.RemoveRecipeLine)

		api.PUT("/carts/:sessionId", h.UpdateCart)
		api.DELETE("/carts/:sessionId", h.ReleaseCart)

		api.POST("/orders", h.CreateOrder)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.PATCH("/orders/:id/status", h.UpdateOrderStatus)
		api.PATCH("/orders/:id", h.UpdateOrderFields)
		api.PUT("/orders/:id/items", h.AmendOrder)

		api.GET("/inventory", h.ListIngredients)
		api.GET("/inventory/:id", h.GetIngredient)
		api.PUT("/inventory/:id", h.UpsertIngredient)
		api.POST("/inventory/:id/restock", h.Restock)
		api.POST("/inventory/:id/adjust", h.Adjust)
		api.GET("/inventory/:id/transactions", h.ListTransactions)
	}
}

func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAllServings returns {menuItemId: servings}; -1 means unlimited.
func (h *APIHandler) GetAllServings(c *gin.Context) {
	alloc, err := h.inventory.AllServings(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc.Servings)
}

// GetServingsWithCart takes the cart's own demand out before computing servings.
// It never touches reservations; PUT /api/carts/:sessionId does.
func (h *APIHandler) GetServingsWithCart(c *gin.Context) {
	var cart []inventory.Line
	if err := c.ShouldBindJSON(&cart); err != nil {
		h.badRequest(c, err)
		return
	}
	alloc, err := h.inventory.ServingsWithCart(c.Request.Context(), cart)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc.Servings)
}

func (h *APIHandler) GetServings(c *gin.Context) {
	s, err := h.inventory.ServingsFor(c.Request.Context(), c.Param("menuItemId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *APIHandler) GetRecipe(c *gin.Context) {
	lines, err := h.inventory.Recipe(c.Request.Context(), c.Param("menuItemId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

type recipeLineRequest struct {
	IngredientID string          `json:"inventoryItemId"`
	Quantity     decimal.Decimal `json:"quantity"`
}

func (r recipeLineRequest) line(menuItemID string) inventory.RecipeLine {
	return inventory.RecipeLine{MenuItemID: menuItemID, IngredientID: r.IngredientID, Quantity: r.Quantity}
}

func (h *APIHandler) ReplaceRecipe(c *gin.Context) {
	var req []recipeLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	menuItemID := c.Param("menuItemId")
	lines := make([]inventory.RecipeLine, 0, len(req))
	for _, r := range req {
		lines = append(lines, r.line(menuItemID))
	}
	if err := h.inventory.ReplaceRecipe(c.Request.Context(), menuItemID, lines); err != nil {
		h.writeError(c, err)
		return
	}
	h.GetRecipe(c)
}

func (h *APIHandler) AddRecipeLine(c *gin.Context) {
	var req recipeLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	menuItemID := c.Param("menuItemId")
	if err := h.inventory.AddRecipeLine(c.Request.Context(), req.line(menuItemID)); err != nil {
		h.writeError(c, err)
		return
	}
	lines, err := h.inventory.Recipe(c.Request.Context(), menuItemID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lines)
}

func (h *APIHandler) RemoveRecipeLine(c *gin.Context) {
	err := h.inventory.RemoveRecipeLine(c.Request.Context(), c.Param("menuItemId"), c.Param("inventoryItemId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateCart replaces the session's tentative reservation and answers with the
// servings that session now sees.
func (h *APIHandler) UpdateCart(c *gin.Context) {
	var cart []inventory.Line
	if err := c.ShouldBindJSON(&cart); err != nil {
		h.badRequest(c, err)
		return
	}
	alloc, err := h.inventory.UpdateCart(c.Request.Context(), c.Param("sessionId"), cart)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc.Servings)
}

func (h *APIHandler) ReleaseCart(c *gin.Context) {
	h.inventory.ReleaseCart(c.Request.Context(), c.Param("sessionId"))
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) CreateOrder(c *gin.Context) {
	var req order.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	o, err := h.orders.Create(c.Request.Context(), req, h.settings())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *APIHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *APIHandler) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *APIHandler) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *APIHandler) UpdateOrderFields(c *gin.Context) {
	var req order.FieldsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	o, err := h.orders.UpdateFields(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type amendRequest struct {
	Items []order.ItemRequest `json:"items"`
}

func (h *APIHandler) AmendOrder(c *gin.Context) {
	var req amendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	o, err := h.orders.Amend(c.Request.Context(), c.Param("id"), req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *APIHandler) ListIngredients(c *gin.Context) {
	c.JSON(http.StatusOK, h.inventory.Ingredients(c.Request.Context()))
}

func (h *APIHandler) GetIngredient(c *gin.Context) {
	v, err := h.inventory.Ingredient(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type ingredientRequest struct {
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	MinStock decimal.Decimal `json:"minStock"`
}

func (h *APIHandler) UpsertIngredient(c *gin.Context) {
	var req ingredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	v, err := h.inventory.UpsertIngredient(c.Request.Context(), inventory.Ingredient{
		ID:       c.Param("id"),
		Name:     req.Name,
		Unit:     req.Unit,
		MinStock: req.MinStock,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type stockRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note"`
}

func (h *APIHandler) Restock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	tx, err := h.inventory.Restock(c.Request.Context(), c.Param("id"), req.Quantity, req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// Adjust sets on-hand to the counted quantity.
func (h *APIHandler) Adjust(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	tx, err := h.inventory.Adjust(c.Request.Context(), c.Param("id"), req.Quantity, req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *APIHandler) ListTransactions(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	txs, err := h.inventory.Transactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}
