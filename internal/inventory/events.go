package inventory

import "github.com/shopspring/decimal"

// Inventory feed message types published by the stock and menu collaborators.
const (
	FeedRestock          = "restock"
	FeedAdjustment       = "adjustment"
	FeedMenuItemUpserted = "menu_item_upserted"
	FeedMenuItemRemoved  = "menu_item_removed"
)

// FeedMessage is one record of the inventory feed topic.
type FeedMessage struct {
	Type         string          `json:"type"`
	IngredientID string          `json:"ingredientId,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Note         string          `json:"note,omitempty"`
	MenuItem     *MenuItem       `json:"menuItem,omitempty"`
	MenuItemID   string          `json:"menuItemId,omitempty"`
	// Recipe, when present on menu_item_upserted, replaces the item's recipe.
	Recipe []RecipeLine `json:"recipe,omitempty"`
}
