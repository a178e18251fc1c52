package inventory

import "context"

// LedgerStore persists ingredients and their stock transactions.
type LedgerStore interface {
	LoadIngredients(ctx context.Context) ([]Ingredient, error)
	SaveIngredient(ctx context.Context, ingredient Ingredient) error
	// ApplyTransactions appends txs and sets each ingredient's on-hand to the
	// transaction's Resulting quantity, all or nothing.
	ApplyTransactions(ctx context.Context, txs []StockTransaction) error
	Transactions(ctx context.Context, ingredientID string, limit int) ([]StockTransaction, error)
	// DeductionReferences lists the references of every deduction already applied.
	DeductionReferences(ctx context.Context) ([]string, error)
}

// RecipeStore persists the menu registry and recipe lines.
type RecipeStore interface {
	LoadMenuItems(ctx context.Context) ([]MenuItem, error)
	SaveMenuItem(ctx context.Context, item MenuItem) error
	DeleteMenuItem(ctx context.Context, id string) error
	LoadRecipes(ctx context.Context) ([]RecipeLine, error)
	ReplaceRecipe(ctx context.Context, menuItemID string, lines []RecipeLine) error
}

type Store interface {
	LedgerStore
	RecipeStore
}
