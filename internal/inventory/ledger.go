package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger holds the on-hand quantity of every ingredient.
//
// Mutations are write-through: the store is updated first and the in-memory view
// is swapped only when it succeeds. Callers serialise mutations of the same
// ingredient through a LockSet.
type Ledger struct {
	mu      sync.RWMutex
	items   map[string]Ingredient
	applied map[string]struct{}
	store   LedgerStore
	now     func() time.Time
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{
		items:   make(map[string]Ingredient),
		applied: make(map[string]struct{}),
		store:   store,
		now:     time.Now,
	}
}

// Load replaces the in-memory view with the store contents.
func (l *Ledger) Load(ctx context.Context) error {
	ingredients, err := l.store.LoadIngredients(ctx)
	if err != nil {
		return fmt.Errorf("load ingredients: %w", err)
	}
	refs, err := l.store.DeductionReferences(ctx)
	if err != nil {
		return fmt.Errorf("load deduction references: %w", err)
	}

	items := make(map[string]Ingredient, len(ingredients))
	for _, in := range ingredients {
		items[in.ID] = in
	}
	applied := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		applied[ref] = struct{}{}
	}

	l.mu.Lock()
	l.items = items
	l.applied = applied
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Get(id string) (Ingredient, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	in, ok := l.items[id]
	return in, ok
}

func (l *Ledger) Exists(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// List returns all ingredients ordered by name, then id.
func (l *Ledger) List() []Ingredient {
	l.mu.RLock()
	out := make([]Ingredient, 0, len(l.items))
	for _, in := range l.items {
		out = append(out, in)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnHand returns a copy of the on-hand quantity per ingredient.
func (l *Ledger) OnHand() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.items))
	for id, in := range l.items {
		out[id] = in.OnHand
	}
	return out
}

// Applied reports whether a deduction with this reference has been recorded.
func (l *Ledger) Applied(reference string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[reference]
	return ok
}

// Upsert creates or updates ingredient metadata. On-hand of an existing
// ingredient is preserved; a new ingredient starts at zero.
func (l *Ledger) Upsert(ctx context.Context, meta Ingredient) (Ingredient, error) {
	if meta.ID == "" {
		return Ingredient{}, NewValidationError("id", "is required")
	}
	if meta.Name == "" {
		return Ingredient{}, NewValidationError("name", "is required")
	}
	if meta.MinStock.IsNegative() {
		return Ingredient{}, NewValidationError("minStock", "cannot be negative")
	}

	next := Ingredient{
		ID:        meta.ID,
		Name:      meta.Name,
		Unit:      meta.Unit,
		OnHand:    decimal.Zero,
		MinStock:  meta.MinStock,
		UpdatedAt: l.now().UTC(),
	}
	if cur, ok := l.Get(meta.ID); ok {
		next.OnHand = cur.OnHand
	}

	if err := l.store.SaveIngredient(ctx, next); err != nil {
		return Ingredient{}, fmt.Errorf("save ingredient %s: %w", next.ID, err)
	}

	l.mu.Lock()
	l.items[next.ID] = next
	l.mu.Unlock()
	return next, nil
}

// Restock adds a positive quantity.
func (l *Ledger) Restock(ctx context.Context, id string, qty decimal.Decimal, note string) (StockTransaction, error) {
	if !qty.IsPositive() {
		return StockTransaction{}, NewValidationError("quantity", "must be positive")
	}
	cur, ok := l.Get(id)
	if !ok {
		return StockTransaction{}, &NotFoundError{Resource: "ingredient", ID: id}
	}
	tx := l.newTransaction(id, TxRestock, qty, cur.OnHand.Add(qty), "", note)
	if err := l.apply(ctx, []StockTransaction{tx}); err != nil {
		return StockTransaction{}, err
	}
	return tx, nil
}

// Adjust sets on-hand to an absolute counted quantity.
func (l *Ledger) Adjust(ctx context.Context, id string, counted decimal.Decimal, note string) (StockTransaction, error) {
	if counted.IsNegative() {
		return StockTransaction{}, NewValidationError("quantity", "cannot be negative")
	}
	cur, ok := l.Get(id)
	if !ok {
		return StockTransaction{}, &NotFoundError{Resource: "ingredient", ID: id}
	}
	tx := l.newTransaction(id, TxAdjustment, counted.Sub(cur.OnHand), counted, "", note)
	if err := l.apply(ctx, []StockTransaction{tx}); err != nil {
		return StockTransaction{}, err
	}
	return tx, nil
}

// Deduct removes consumption from the ledger once per reference. A repeated
// reference is a no-op and returns applied == false.
func (l *Ledger) Deduct(ctx context.Context, reference string, consumption Demand) (txs []StockTransaction, applied bool, err error) {
	if reference == "" {
		return nil, false, NewValidationError("reference", "is required")
	}
	if l.Applied(reference) {
		return nil, false, nil
	}

	for _, id := range consumption.Ingredients() {
		qty := consumption[id]
		if qty.IsZero() {
			continue
		}
		cur, ok := l.Get(id)
		if !ok {
			return nil, false, &NotFoundError{Resource: "ingredient", ID: id}
		}
		txs = append(txs, l.newTransaction(id, TxDeduction, qty.Neg(), cur.OnHand.Sub(qty), reference, ""))
	}

	if len(txs) > 0 {
		if err := l.apply(ctx, txs); err != nil {
			return nil, false, err
		}
	}

	l.mu.Lock()
	l.applied[reference] = struct{}{}
	l.mu.Unlock()
	return txs, true, nil
}

func (l *Ledger) Transactions(ctx context.Context, id string, limit int) ([]StockTransaction, error) {
	if !l.Exists(id) {
		return nil, &NotFoundError{Resource: "ingredient", ID: id}
	}
	txs, err := l.store.Transactions(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", id, err)
	}
	return txs, nil
}

func (l *Ledger) newTransaction(id string, kind TransactionKind, delta, resulting decimal.Decimal, ref, note string) StockTransaction {
	return StockTransaction{
		ID:           uuid.NewString(),
		IngredientID: id,
		Kind:         kind,
		Delta:        delta,
		Resulting:    resulting,
		Reference:    ref,
		Note:         note,
		CreatedAt:    l.now().UTC(),
	}
}

func (l *Ledger) apply(ctx context.Context, txs []StockTransaction) error {
	if err := l.store.ApplyTransactions(ctx, txs); err != nil {
		return fmt.Errorf("apply stock transactions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range txs {
		in := l.items[tx.IngredientID]
		in.OnHand = tx.Resulting
		in.UpdatedAt = tx.CreatedAt
		l.items[tx.IngredientID] = in
	}
	return nil
}
