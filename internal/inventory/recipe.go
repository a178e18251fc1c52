package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// RecipeTable maps menu items to their recipe lines.
//
// Writers hold writeMu from the read of the current recipe until the new one
// is installed, so concurrent edits of one menu item never drop each other.
type RecipeTable struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	menu    map[string]MenuItem
	lines   map[string][]RecipeLine
	store   RecipeStore
}

func NewRecipeTable(store RecipeStore) *RecipeTable {
	return &RecipeTable{
		menu:  make(map[string]MenuItem),
		lines: make(map[string][]RecipeLine),
		store: store,
	}
}

func (t *RecipeTable) Load(ctx context.Context) error {
	items, err := t.store.LoadMenuItems(ctx)
	if err != nil {
		return fmt.Errorf("load menu items: %w", err)
	}
	recipes, err := t.store.LoadRecipes(ctx)
	if err != nil {
		return fmt.Errorf("load recipes: %w", err)
	}

	menu := make(map[string]MenuItem, len(items))
	for _, it := range items {
		menu[it.ID] = it
	}
	lines := make(map[string][]RecipeLine)
	for _, rl := range recipes {
		lines[rl.MenuItemID] = append(lines[rl.MenuItemID], rl)
	}

	t.mu.Lock()
	t.menu = menu
	t.lines = lines
	t.mu.Unlock()
	return nil
}

func (t *RecipeTable) MenuItem(id string) (MenuItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it, ok := t.menu[id]
	return it, ok
}

// MenuItems returns the registry ordered by id.
func (t *RecipeTable) MenuItems() []MenuItem {
	t.mu.RLock()
	out := make([]MenuItem, 0, len(t.menu))
	for _, it := range t.menu {
		out = append(out, it)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recipe returns a copy of the lines of a menu item.
func (t *RecipeTable) Recipe(menuItemID string) ([]RecipeLine, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.menu[menuItemID]; !ok {
		return nil, &NotFoundError{Resource: "menu item", ID: menuItemID}
	}
	return append([]RecipeLine(nil), t.lines[menuItemID]...), nil
}

// Snapshot returns every menu item with a copy of its lines; unconstrained
// items map to an empty slice.
func (t *RecipeTable) Snapshot() map[string][]RecipeLine {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]RecipeLine, len(t.menu))
	for id := range t.menu {
		out[id] = append([]RecipeLine{}, t.lines[id]...)
	}
	return out
}

func (t *RecipeTable) UpsertMenuItem(ctx context.Context, item MenuItem) error {
	if item.ID == "" {
		return NewValidationError("id", "is required")
	}
	if item.Price.IsNegative() {
		return NewValidationError("price", "cannot be negative")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.store.SaveMenuItem(ctx, item); err != nil {
		return fmt.Errorf("save menu item %s: %w", item.ID, err)
	}
	t.mu.Lock()
	t.menu[item.ID] = item
	t.mu.Unlock()
	return nil
}

// RemoveMenuItem drops the menu item and its recipe.
func (t *RecipeTable) RemoveMenuItem(ctx context.Context, id string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, ok := t.MenuItem(id); !ok {
		return &NotFoundError{Resource: "menu item", ID: id}
	}
	if err := t.store.DeleteMenuItem(ctx, id); err != nil {
		return fmt.Errorf("delete menu item %s: %w", id, err)
	}
	t.mu.Lock()
	delete(t.menu, id)
	delete(t.lines, id)
	t.mu.Unlock()
	return nil
}

// ReplaceRecipe installs lines as the complete recipe of a menu item.
func (t *RecipeTable) ReplaceRecipe(ctx context.Context, menuItemID string, lines []RecipeLine) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.replaceLocked(ctx, menuItemID, lines)
}

func (t *RecipeTable) replaceLocked(ctx context.Context, menuItemID string, lines []RecipeLine) error {
	if _, ok := t.MenuItem(menuItemID); !ok {
		return &NotFoundError{Resource: "menu item", ID: menuItemID}
	}
	next, err := normalizeLines(menuItemID, lines)
	if err != nil {
		return err
	}
	if err := t.store.ReplaceRecipe(ctx, menuItemID, next); err != nil {
		return fmt.Errorf("replace recipe of %s: %w", menuItemID, err)
	}
	t.mu.Lock()
	t.lines[menuItemID] = next
	t.mu.Unlock()
	return nil
}

// AddLine appends one ingredient line. A second line for the same ingredient is a conflict.
func (t *RecipeTable) AddLine(ctx context.Context, line RecipeLine) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	cur, err := t.Recipe(line.MenuItemID)
	if err != nil {
		return err
	}
	for _, rl := range cur {
		if rl.IngredientID == line.IngredientID {
			return NewConflictError("menu item %s already uses ingredient %s", line.MenuItemID, line.IngredientID)
		}
	}
	return t.replaceLocked(ctx, line.MenuItemID, append(cur, line))
}

// RemoveLine deletes the line for one ingredient.
func (t *RecipeTable) RemoveLine(ctx context.Context, menuItemID, ingredientID string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	cur, err := t.Recipe(menuItemID)
	if err != nil {
		return err
	}
	next := make([]RecipeLine, 0, len(cur))
	for _, rl := range cur {
		if rl.IngredientID != ingredientID {
			next = append(next, rl)
		}
	}
	if len(next) == len(cur) {
		return &NotFoundError{Resource: "recipe line", ID: menuItemID + "/" + ingredientID}
	}
	return t.replaceLocked(ctx, menuItemID, next)
}

// DemandFor validates lines and sums their ingredient demand against the current recipes.
func (t *RecipeTable) DemandFor(lines []Line) (Demand, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return demandOf(lines, func(id string) ([]RecipeLine, bool) {
		if _, ok := t.menu[id]; !ok {
			return nil, false
		}
		return t.lines[id], true
	})
}

func demandOf(lines []Line, recipeOf func(string) ([]RecipeLine, bool)) (Demand, error) {
	d := make(Demand)
	for i, ln := range lines {
		if ln.MenuItemID == "" {
			return nil, NewValidationError(fmt.Sprintf("items[%d].menuItemId", i), "is required")
		}
		if ln.Quantity <= 0 {
			return nil, NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be positive, got %d", ln.Quantity)
		}
		recipe, ok := recipeOf(ln.MenuItemID)
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("items[%d].menuItemId", i), "unknown menu item %q", ln.MenuItemID)
		}
		servings := decimal.NewFromInt(int64(ln.Quantity))
		for _, rl := range recipe {
			d.Add(rl.IngredientID, rl.Quantity.Mul(servings))
		}
	}
	return d, nil
}

func normalizeLines(menuItemID string, lines []RecipeLine) ([]RecipeLine, error) {
	seen := make(map[string]struct{}, len(lines))
	out := make([]RecipeLine, 0, len(lines))
	for i, rl := range lines {
		if rl.IngredientID == "" {
			return nil, NewValidationError(fmt.Sprintf("lines[%d].inventoryItemId", i), "is required")
		}
		if !rl.Quantity.IsPositive() {
			return nil, NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if _, dup := seen[rl.IngredientID]; dup {
			return nil, NewValidationError(fmt.Sprintf("lines[%d].inventoryItemId", i), "duplicate ingredient %q", rl.IngredientID)
		}
		seen[rl.IngredientID] = struct{}{}
		rl.MenuItemID = menuItemID
		out = append(out, rl)
	}
	return out, nil
}
