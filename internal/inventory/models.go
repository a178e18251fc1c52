package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StatusInStock    StockStatus = "IN_STOCK"
	StatusLowStock   StockStatus = "LOW_STOCK"
	StatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// Ingredient is one ledger row.
type Ingredient struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	OnHand    decimal.Decimal `json:"currentStock"`
	MinStock  decimal.Decimal `json:"minStock"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Status derives the stock status from on-hand and the minimum threshold.
func (i Ingredient) Status() StockStatus {
	return statusOf(i.OnHand, i.MinStock)
}

func statusOf(onHand, min decimal.Decimal) StockStatus {
	switch {
	case !onHand.IsPositive():
		return StatusOutOfStock
	case onHand.LessThanOrEqual(min):
		return StatusLowStock
	default:
		return StatusInStock
	}
}

type TransactionKind string

const (
	TxRestock    TransactionKind = "RESTOCK"
	TxDeduction  TransactionKind = "DEDUCTION"
	TxAdjustment TransactionKind = "ADJUSTMENT"
)

// StockTransaction is an append-only record of a ledger mutation.
type StockTransaction struct {
	ID           string          `json:"id"`
	IngredientID string          `json:"ingredientId"`
	Kind         TransactionKind `json:"kind"`
	Delta        decimal.Decimal `json:"delta"`
	Resulting    decimal.Decimal `json:"resulting"`
	Reference    string          `json:"reference,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// MenuItem is reference data owned by the menu collaborator.
type MenuItem struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

// RecipeLine is the quantity of one ingredient needed for one serving of a menu item.
type RecipeLine struct {
	MenuItemID   string          `json:"menuItemId"`
	IngredientID string          `json:"inventoryItemId"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// Line is a (menu item, servings) pair from a cart or an order.
type Line struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

// Demand is a per-ingredient quantity aggregate.
type Demand map[string]decimal.Decimal

// Add accumulates qty for the ingredient.
func (d Demand) Add(ingredientID string, qty decimal.Decimal) {
	d[ingredientID] = d[ingredientID].Add(qty)
}

// Merge adds every entry of o into d.
func (d Demand) Merge(o Demand) {
	for id, q := range o {
		d.Add(id, q)
	}
}

// Subtract removes every entry of o from d, dropping entries that reach zero.
func (d Demand) Subtract(o Demand) {
	for id, q := range o {
		left := d[id].Sub(q)
		if left.IsZero() {
			delete(d, id)
			continue
		}
		d[id] = left
	}
}

func (d Demand) Clone() Demand {
	out := make(Demand, len(d))
	for id, q := range d {
		out[id] = q
	}
	return out
}

func (d Demand) IsEmpty() bool {
	for _, q := range d {
		if !q.IsZero() {
			return false
		}
	}
	return true
}

// Ingredients returns the ingredient ids in sorted order.
func (d Demand) Ingredients() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
