package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bagstore/internal/model"
)

func TestIsValidOrderNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{name: "simple", number: "ORD-1", valid: true},
		{name: "underscore and digits", number: "ord_20260101_42", valid: true},
		{name: "empty", number: "", valid: false},
		{name: "spaces", number: "ORD 1", valid: false},
		{name: "sql meta", number: "ORD-1';--", valid: false},
		{name: "too long", number: string(make([]byte, 65)), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidOrderNumber(tt.number))
		})
	}
}

func TestTotals(t *testing.T) {
	d := decimal.RequireFromString

	require.NoError(t, Totals(d("100"), d("20"), d("120")))
	require.NoError(t, Totals(d("99.99"), d("0.01"), d("100.00")))

	err := Totals(d("100"), d("20"), d("119"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "total", fe.Field)

	err = Totals(d("-1"), d("1"), d("0"))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "subtotal", fe.Field)
}

func TestTotalsRejectsSubCentAmounts(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name      string
		subtotal  string
		shipping  string
		total     string
		wantField string
	}{
		{name: "subtotal", subtotal: "10.005", shipping: "0.005", total: "10.01", wantField: "subtotal"},
		{name: "shipping", subtotal: "10.00", shipping: "0.005", total: "10.005", wantField: "shipping"},
		{name: "total", subtotal: "10.00", shipping: "0.00", total: "10.000001", wantField: "total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Totals(d(tt.subtotal), d(tt.shipping), d(tt.total))
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantField, fe.Field)
			assert.Equal(t, "must have at most 2 decimal places", fe.Reason)
		})
	}

	// Лишние нули после запятой допустимы.
	require.NoError(t, Totals(d("10.000"), d("0.50"), d("10.5")))
}

func TestLineTotal(t *testing.T) {
	got := LineTotal(decimal.RequireFromString("19.99"), 3)
	assert.Equal(t, "59.97", got.StringFixed(2))
}

func TestOrderItems(t *testing.T) {
	ok := model.OrderItem{Name: "Tote", Price: decimal.NewFromInt(50), Quantity: 1}

	tests := []struct {
		name      string
		items     []model.OrderItem
		wantField string
	}{
		{name: "valid", items: []model.OrderItem{ok}},
		{name: "empty", items: nil, wantField: "items"},
		{name: "no name", items: []model.OrderItem{{Price: decimal.NewFromInt(1), Quantity: 1}}, wantField: "items[0].name"},
		{name: "zero quantity", items: []model.OrderItem{ok, {Name: "Clutch", Price: decimal.NewFromInt(1)}}, wantField: "items[1].quantity"},
		{name: "sub-cent price", items: []model.OrderItem{{Name: "Clutch", Price: decimal.RequireFromString("9.999"), Quantity: 1}}, wantField: "items[0].price"},
		{name: "negative price", items: []model.OrderItem{{Name: "Clutch", Price: decimal.NewFromInt(-1), Quantity: 1}}, wantField: "items[0].price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := OrderItems(tt.items)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantField, fe.Field)
		})
	}
}

func TestRating(t *testing.T) {
	assert.NoError(t, Rating(1))
	assert.NoError(t, Rating(5))
	assert.Error(t, Rating(0))
	assert.Error(t, Rating(6))
}
