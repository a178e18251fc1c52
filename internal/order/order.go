// Package order owns the order state machine and decides when reserved stock
// is committed, released or consumed.
package order

import (
	"fmt"
	"time"

	"recipestock/internal/inventory"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPreparing Status = "PREPARING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active orders hold a reservation.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusPreparing
}

func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusPending, StatusPreparing, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", inventory.NewValidationError("status", "unknown order status %q", v)
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func ParsePaymentStatus(v string) (PaymentStatus, error) {
	switch p := PaymentStatus(v); p {
	case PaymentUnpaid, PaymentPaid, PaymentRefunded:
		return p, nil
	}
	return "", inventory.NewValidationError("paymentStatus", "unknown payment status %q", v)
}

type PaymentMethod string

const (
	MethodCash    PaymentMethod = "CASH"
	MethodCard    PaymentMethod = "CARD"
	MethodEWallet PaymentMethod = "E_WALLET"
)

func ParsePaymentMethod(v string) (PaymentMethod, error) {
	switch m := PaymentMethod(v); m {
	case MethodCash, MethodCard, MethodEWallet:
		return m, nil
	}
	return "", inventory.NewValidationError("paymentMethod", "unknown payment method %q", v)
}

type Type string

const (
	TypeDineIn   Type = "DINE_IN"
	TypeTakeout  Type = "TAKEOUT"
	TypeDelivery Type = "DELIVERY"
)

func ParseType(v string) (Type, error) {
	switch t := Type(v); t {
	case TypeDineIn, TypeTakeout, TypeDelivery:
		return t, nil
	}
	return "", inventory.NewValidationError("orderType", "unknown order type %q", v)
}

// Item is one priced order line.
type Item struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// AuditEntry records a status, payment or item change.
type AuditEntry struct {
	At    time.Time `json:"at"`
	Field string    `json:"field"`
	From  string    `json:"from"`
	To    string    `json:"to"`
}

type Order struct {
	ID            string           `json:"id"`
	Number        string           `json:"orderNumber"`
	Items         []Item           `json:"items"`
	Status        Status           `json:"status"`
	PaymentStatus PaymentStatus    `json:"paymentStatus"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	Type          Type             `json:"orderType"`
	CustomerName  string           `json:"customerName,omitempty"`
	TableNumber   string           `json:"tableNumber,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Tax           decimal.Decimal  `json:"tax"`
	Total         decimal.Decimal  `json:"total"`
	LinkedOrderID string           `json:"linkedOrderId,omitempty"`
	Consumption   inventory.Demand `json:"consumption,omitempty"`
	History       []AuditEntry     `json:"history"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	CancelledAt   *time.Time       `json:"cancelledAt,omitempty"`
}

// Lines returns the (menu item, servings) pairs of the order.
func (o Order) Lines() []inventory.Line {
	out := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Line{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}
	return out
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	o.History = append([]AuditEntry(nil), o.History...)
	if o.Consumption != nil {
		o.Consumption = o.Consumption.Clone()
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		o.CancelledAt = &t
	}
	return o
}

func (o *Order) audit(at time.Time, field, from, to string) {
	o.History = append(o.History, AuditEntry{At: at, Field: field, From: from, To: to})
}

// TaxRate is applied to the subtotal when an order is priced.
var TaxRate = decimal.RequireFromString("0.12")

// Totals returns subtotal, tax and total of items. Tax is rounded half-up to
// two places.
func Totals(items []Item) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal)
	}
	tax = subtotal.Mul(TaxRate).Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

// FormatNumber renders the daily sequence as ORD_YYYYMMDD_NNN.
func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("ORD_%s_%03d", day.UTC().Format("20060102"), seq)
}
