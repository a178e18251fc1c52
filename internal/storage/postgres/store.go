// Package postgres stores the ledger, recipes and orders in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipestock/internal/inventory"
	"recipestock/internal/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Store implements inventory.Store and order.Store. Numeric columns travel as
// text so decimals keep their exact value.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) LoadIngredients(ctx context.Context) ([]inventory.Ingredient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, unit, on_hand::text, min_stock::text, updated_at
		FROM ingredients`)
	if err != nil {
		return nil, fmt.Errorf("query ingredients: %w", err)
	}
	defer rows.Close()

	var out []inventory.Ingredient
	for rows.Next() {
		var (
			in               inventory.Ingredient
			onHand, minStock string
		)
		if err := rows.Scan(&in.ID, &in.Name, &in.Unit, &onHand, &minStock, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		if in.OnHand, err = decimal.NewFromString(onHand); err != nil {
			return nil, fmt.Errorf("ingredient %s on_hand: %w", in.ID, err)
		}
		if in.MinStock, err = decimal.NewFromString(minStock); err != nil {
			return nil, fmt.Errorf("ingredient %s min_stock: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) SaveIngredient(ctx context.Context, in inventory.Ingredient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingredients (id, name, unit, on_hand, min_stock, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    unit = EXCLUDED.unit,
		    min_stock = EXCLUDED.min_stock,
		    updated_at = EXCLUDED.updated_at`,
		in.ID, in.Name, in.Unit, in.OnHand.String(), in.MinStock.String(), in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert ingredient: %w", err)
	}
	return nil
}

func (s *Store) ApplyTransactions(ctx context.Context, txs []inventory.StockTransaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, st := range txs {
			tag, err := tx.Exec(ctx, `
				UPDATE ingredients SET on_hand = $2::numeric, updated_at = $3
				WHERE id = $1`,
				st.IngredientID, st.Resulting.String(), st.CreatedAt)
			if err != nil {
				return fmt.Errorf("update on hand of %s: %w", st.IngredientID, err)
			}
			if tag.RowsAffected() == 0 {
				return &inventory.NotFoundError{Resource: "ingredient", ID: st.IngredientID}
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO stock_transactions
				    (id, ingredient_id, kind, delta, resulting, reference, note, created_at)
				VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)`,
				st.ID, st.IngredientID, string(st.Kind), st.Delta.String(), st.Resulting.String(),
				st.Reference, st.Note, st.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert stock transaction: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Transactions(ctx context.Context, ingredientID string, limit int) ([]inventory.StockTransaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ingredient_id, kind, delta::text, resulting::text, reference, note, created_at
		FROM stock_transactions
		WHERE ingredient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ingredientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query stock transactions: %w", err)
	}
	defer rows.Close()

	var out []inventory.StockTransaction
	for rows.Next() {
		var (
			st               inventory.StockTransaction
			kind             string
			delta, resulting string
		)
		if err := rows.Scan(&st.ID, &st.IngredientID, &kind, &delta, &resulting, &st.Reference, &st.Note, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock transaction: %w", err)
		}
		st.Kind = inventory.TransactionKind(kind)
		if st.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, err
		}
		if st.Resulting, err = decimal.NewFromString(resulting); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) DeductionReferences(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT reference FROM stock_transactions
		WHERE kind = 'DEDUCTION' AND reference <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query deduction references: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) LoadMenuItems(ctx context.Context) ([]inventory.MenuItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, price::text, active FROM menu_items`)
	if err != nil {
		return nil, fmt.Errorf("query menu items: %w", err)
	}
	defer rows.Close()

	var out []inventory.MenuItem
	for rows.Next() {
		var (
			it    inventory.MenuItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.Name, &price, &it.Active); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) SaveMenuItem(ctx context.Context, item inventory.MenuItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO menu_items (id, name, price, active)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, active = EXCLUDED.active`,
		item.ID, item.Name, item.Price.String(), item.Active)
	if err != nil {
		return fmt.Errorf("upsert menu item: %w", err)
	}
	return nil
}

func (s *Store) DeleteMenuItem(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete menu item: %w", err)
	}
	return nil
}

func (s *Store) LoadRecipes(ctx context.Context) ([]inventory.RecipeLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT menu_item_id, ingredient_id, quantity::text
		FROM recipe_lines
		ORDER BY menu_item_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query recipe lines: %w", err)
	}
	defer rows.Close()

	var out []inventory.RecipeLine
	for rows.Next() {
		var (
			rl  inventory.RecipeLine
			qty string
		)
		if err := rows.Scan(&rl.MenuItemID, &rl.IngredientID, &qty); err != nil {
			return nil, fmt.Errorf("scan recipe line: %w", err)
		}
		if rl.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceRecipe(ctx context.Context, menuItemID string, lines []inventory.RecipeLine) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recipe_lines WHERE menu_item_id = $1`, menuItemID); err != nil {
			return fmt.Errorf("clear recipe: %w", err)
		}
		batch := &pgx.Batch{}
		for i, rl := range lines {
			batch.Queue(`
				INSERT INTO recipe_lines (menu_item_id, ingredient_id, quantity, position)
				VALUES ($1, $2, $3::numeric, $4)`,
				menuItemID, rl.IngredientID, rl.Quantity.String(), i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert recipe lines: %w", err)
		}
		return nil
	})
}

func (s *Store) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	var seq int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO order_counters (day, seq) VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET seq = order_counters.seq + 1
		RETURNING seq`, day.UTC().Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return order.FormatNumber(day, seq), nil
}

const orderColumns = `id, order_number, status, payment_status, payment_method, order_type,
	customer_name, table_number, subtotal::text, tax::text, total::text, linked_order_id,
	items, consumption, history, created_at, updated_at, completed_at, cancelled_at`

func (s *Store) Create(ctx context.Context, o order.Order) error {
	items, consumption, history, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12,
		        $13, $14, $15, $16, $17, $18, $19)`,
		o.ID, o.Number, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), string(o.Type),
		o.CustomerName, o.TableNumber, o.Subtotal.String(), o.Tax.String(), o.Total.String(), o.LinkedOrderID,
		items, consumption, history, o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, o order.Order) error {
	items, consumption, history, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET
		    status = $2, payment_status = $3, payment_method = $4, order_type = $5,
		    customer_name = $6, table_number = $7,
		    subtotal = $8::numeric, tax = $9::numeric, total = $10::numeric,
		    items = $11, consumption = $12, history = $13,
		    updated_at = $14, completed_at = $15, cancelled_at = $16
		WHERE id = $1`,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), string(o.Type),
		o.CustomerName, o.TableNumber, o.Subtotal.String(), o.Tax.String(), o.Total.String(),
		items, consumption, history, o.UpdatedAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &inventory.NotFoundError{Resource: "order", ID: o.ID}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (order.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return order.Order{}, fmt.Errorf("query order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, &inventory.NotFoundError{Resource: "order", ID: id}
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

func (s *Store) List(ctx context.Context, status order.Status) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, order_number DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (s *Store) ListActive(ctx context.Context) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('PENDING', 'PREPARING')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func encodeOrder(o order.Order) (items, consumption, history []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("encode items: %w", err)
	}
	c := o.Consumption
	if c == nil {
		c = inventory.Demand{}
	}
	if consumption, err = json.Marshal(c); err != nil {
		return nil, nil, nil, fmt.Errorf("encode consumption: %w", err)
	}
	h := o.History
	if h == nil {
		h = []order.AuditEntry{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, nil, fmt.Errorf("encode history: %w", err)
	}
	return items, consumption, history, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                           order.Order
		status, payment             string
		method, orderType           string
		subtotal, tax, total        string
		items, consumption, history []byte
	)
	err := row.Scan(&o.ID, &o.Number, &status, &payment, &method, &orderType,
		&o.CustomerName, &o.TableNumber, &subtotal, &tax, &total, &o.LinkedOrderID,
		&items, &consumption, &history, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.CancelledAt)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payment)
	o.PaymentMethod = order.PaymentMethod(method)
	o.Type = order.Type(orderType)
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return order.Order{}, err
	}
	if o.Tax, err = decimal.NewFromString(tax); err != nil {
		return order.Order{}, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(consumption, &o.Consumption); err != nil {
		return order.Order{}, fmt.Errorf("decode consumption: %w", err)
	}
	if err := json.Unmarshal(history, &o.History); err != nil {
		return order.Order{}, fmt.Errorf("decode history: %w", err)
	}
	return o, nil
}
