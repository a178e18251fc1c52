package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(price string, qty int) Item {
	p := decimal.RequireFromString(price)
	return Item{UnitPrice: p, Quantity: qty, Subtotal: p.Mul(decimal.NewFromInt(int64(qty)))}
}

func TestTotals(t *testing.T) {
	tests := []struct {
		name                 string
		items                []Item
		subtotal, tax, total string
	}{
		{"round hundred", []Item{item("50", 2)}, "100", "12", "112"},
		{"tax rounds half up", []Item{item("10.05", 1)}, "10.05", "1.21", "11.26"},
		{"several lines", []Item{item("3.50", 3), item("1.25", 2)}, "13", "1.56", "14.56"},
		{"empty", nil, "0", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtotal, tax, total := Totals(tt.items)
			assert.True(t, subtotal.Equal(decimal.RequireFromString(tt.subtotal)), "subtotal %s", subtotal)
			assert.True(t, tax.Equal(decimal.RequireFromString(tt.tax)), "tax %s", tax)
			assert.True(t, total.Equal(decimal.RequireFromString(tt.total)), "total %s", total)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	day := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "ORD_20250309_001", FormatNumber(day, 1))
	assert.Equal(t, "ORD_20250309_1234", FormatNumber(day, 1234))
}

func TestParse(t *testing.T) {
	s, err := ParseStatus("PREPARING")
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, s)
	_, err = ParseStatus("preparing")
	assert.Error(t, err)

	_, err = ParsePaymentStatus("VOID")
	assert.Error(t, err)
	m, err := ParsePaymentMethod("E_WALLET")
	require.NoError(t, err)
	assert.Equal(t, MethodEWallet, m)
	_, err = ParseType("DRIVE_THRU")
	assert.Error(t, err)

	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPreparing.Terminal())
	assert.True(t, StatusPreparing.Active())
}

func TestOrderClone(t *testing.T) {
	now := time.Now()
	o := Order{Items: []Item{item("1", 1)}, CompletedAt: &now}
	c := o.Clone()
	c.Items[0].Quantity = 9
	*c.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.True(t, o.CompletedAt.Equal(now))
}
