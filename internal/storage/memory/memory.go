// Package memory keeps every store in process memory. It backs the default
// storage driver and the tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"recipestock/internal/inventory"
	"recipestock/internal/order"
)

type Store struct {
	mu           sync.RWMutex
	ingredients  map[string]inventory.Ingredient
	transactions []inventory.StockTransaction
	menu         map[string]inventory.MenuItem
	recipes      map[string][]inventory.RecipeLine
	orders       map[string]order.Order
	counters     map[string]int
}

func New() *Store {
	return &Store{
		ingredients: make(map[string]inventory.Ingredient),
		menu:        make(map[string]inventory.MenuItem),
		recipes:     make(map[string][]inventory.RecipeLine),
		orders:      make(map[string]order.Order),
		counters:    make(map[string]int),
	}
}

func (s *Store) LoadIngredients(context.Context) ([]inventory.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Ingredient, 0, len(s.ingredients))
	for _, in := range s.ingredients {
		out = append(out, in)
	}
	return out, nil
}

func (s *Store) SaveIngredient(_ context.Context, in inventory.Ingredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingredients[in.ID] = in
	return nil
}

func (s *Store) ApplyTransactions(_ context.Context, txs []inventory.StockTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if _, ok := s.ingredients[tx.IngredientID]; !ok {
			return &inventory.NotFoundError{Resource: "ingredient", ID: tx.IngredientID}
		}
	}
	for _, tx := range txs {
		in := s.ingredients[tx.IngredientID]
		in.OnHand = tx.Resulting
		in.UpdatedAt = tx.CreatedAt
		s.ingredients[tx.IngredientID] = in
		s.transactions = append(s.transactions, tx)
	}
	return nil
}

// Transactions returns the newest transactions of an ingredient first.
func (s *Store) Transactions(_ context.Context, ingredientID string, limit int) ([]inventory.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.StockTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].IngredientID != ingredientID {
			continue
		}
		out = append(out, s.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeductionReferences(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var refs []string
	for _, tx := range s.transactions {
		if tx.Kind != inventory.TxDeduction || tx.Reference == "" {
			continue
		}
		if _, ok := seen[tx.Reference]; ok {
			continue
		}
		seen[tx.Reference] = struct{}{}
		refs = append(refs, tx.Reference)
	}
	return refs, nil
}

func (s *Store) LoadMenuItems(context.Context) ([]inventory.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.MenuItem, 0, len(s.menu))
	for _, it := range s.menu {
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) SaveMenuItem(_ context.Context, item inventory.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[item.ID] = item
	return nil
}

func (s *Store) DeleteMenuItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.menu, id)
	delete(s.recipes, id)
	return nil
}

func (s *Store) LoadRecipes(context.Context) ([]inventory.RecipeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.RecipeLine
	for _, lines := range s.recipes {
		out = append(out, lines...)
	}
	return out, nil
}

func (s *Store) ReplaceRecipe(_ context.Context, menuItemID string, lines []inventory.RecipeLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[menuItemID] = append([]inventory.RecipeLine(nil), lines...)
	return nil
}

func (s *Store) NextOrderNumber(_ context.Context, day time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := day.UTC().Format("20060102")
	s.counters[key]++
	return order.FormatNumber(day, s.counters[key]), nil
}

func (s *Store) Create(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return inventory.NewConflictError("order %s already exists", o.ID)
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return &inventory.NotFoundError{Resource: "order", ID: o.ID}
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, &inventory.NotFoundError{Resource: "order", ID: id}
	}
	return o.Clone(), nil
}

func (s *Store) List(_ context.Context, status order.Status) ([]order.Order, error) {
	return s.filter(func(o order.Order) bool { return status == "" || o.Status == status }), nil
}

func (s *Store) ListActive(context.Context) ([]order.Order, error) {
	return s.filter(func(o order.Order) bool { return o.Status.Active() }), nil
}

func (s *Store) filter(keep func(order.Order) bool) []order.Order {
	s.mu.RLock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out
}
