package billing

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consultItem(qty int, price, discount, tax string) InvoiceItem {
	return InvoiceItem{
		ItemType:    ItemConsultation,
		Description: "General consultation",
		Quantity:    qty,
		UnitPrice:   dec(price),
		Discount:    dec(discount),
		TaxRate:     dec(tax),
	}
}

func TestLineItem_ScenarioA(t *testing.T) {
	it := consultItem(2, "500", "0", "5")
	assertMoney(t, "item subtotal", ItemSubtotal(it), "1000")
	assertMoney(t, "item tax", ItemTax(it), "50")
	assertMoney(t, "line total", LineTotal(it), "1050")
}

func TestComputeInvoiceTotals_ScenarioA(t *testing.T) {
	totals, err := ComputeInvoiceTotals([]InvoiceItem{consultItem(2, "500", "0", "5")}, decimal.Zero)
	require.NoError(t, err)
	assertMoney(t, "sub_total", totals.SubTotal, "1000")
	assertMoney(t, "tax_amount", totals.TaxAmount, "50")
	assertMoney(t, "discount_amount", totals.DiscountAmount, "0")
	assertMoney(t, "total_amount", totals.TotalAmount, "1050")
}

func TestComputeInvoiceTotals_ItemDiscountReducesTaxBase(t *testing.T) {
	// Tax is levied on 150, but the subtotal stays at list price and only
	// the global discount comes off the total.
	totals, err := ComputeInvoiceTotals([]InvoiceItem{consultItem(1, "200", "50", "10")}, decimal.Zero)
	require.NoError(t, err)
	assertMoney(t, "sub_total", totals.SubTotal, "200")
	assertMoney(t, "tax_amount", totals.TaxAmount, "15")
	assertMoney(t, "total_amount", totals.TotalAmount, "215")
}

func TestComputeInvoiceTotals_ItemDiscountClampsAtZero(t *testing.T) {
	it := consultItem(1, "40", "100", "18")
	assertMoney(t, "after discount", ItemAfterDiscount(it), "0")
	assertMoney(t, "tax", ItemTax(it), "0")
}

func TestComputeInvoiceTotals_Idempotent(t *testing.T) {
	items := []InvoiceItem{
		consultItem(3, "333.33", "0", "18"),
		{ItemType: ItemLabTest, Description: "CBC panel", Quantity: 1, UnitPrice: dec("450.50"), Discount: dec("20"), TaxRate: dec("12")},
		{ItemType: ItemMedication, Description: "Amoxicillin 500mg", Quantity: 14, UnitPrice: dec("7.25"), TaxRate: dec("5")},
	}
	first, err := ComputeInvoiceTotals(items, dec("25.75"))
	require.NoError(t, err)
	second, err := ComputeInvoiceTotals(items, dec("25.75"))
	require.NoError(t, err)

	assert.Equal(t, first.SubTotal.String(), second.SubTotal.String())
	assert.Equal(t, first.TaxAmount.String(), second.TaxAmount.String())
	assert.Equal(t, first.DiscountAmount.String(), second.DiscountAmount.String())
	assert.Equal(t, first.TotalAmount.String(), second.TotalAmount.String())
}

func TestComputeInvoiceTotals_Conservation(t *testing.T) {
	cases := []struct {
		name     string
		items    []InvoiceItem
		discount string
	}{
		{"single", []InvoiceItem{consultItem(2, "500", "0", "5")}, "0"},
		{"global discount", []InvoiceItem{consultItem(1, "999.99", "0", "18")}, "100"},
		{"mixed", []InvoiceItem{consultItem(3, "12.34", "1.5", "7.5"), consultItem(1, "0", "0", "0")}, "0.01"},
		{"discount to zero", []InvoiceItem{consultItem(1, "100", "0", "0")}, "100"},
		{"free items", []InvoiceItem{consultItem(5, "0", "0", "12")}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := ComputeInvoiceTotals(tc.items, dec(tc.discount))
			require.NoError(t, err)
			want := totals.SubTotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)
			assert.True(t, totals.TotalAmount.Equal(want), "total %s != %s", totals.TotalAmount, want)
			assert.False(t, totals.TotalAmount.IsNegative())
		})
	}
}

func TestComputeInvoiceTotals_DiscountExceedsTotal(t *testing.T) {
	_, err := ComputeInvoiceTotals([]InvoiceItem{consultItem(1, "100", "0", "0")}, dec("100.01"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscountExceedsTotal))

	var de *DiscountError
	require.True(t, errors.As(err, &de))
	assertMoney(t, "limit", de.Limit, "100")
}

func TestComputeInvoiceTotals_NoItems(t *testing.T) {
	_, err := ComputeInvoiceTotals(nil, decimal.Zero)
	require.True(t, errors.Is(err, ErrInvalidInvoiceItem))

	var ie *ItemError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, -1, ie.Index)
}

func TestComputeInvoiceTotals_InvalidGlobalDiscount(t *testing.T) {
	items := []InvoiceItem{consultItem(1, "100", "0", "0")}

	_, err := ComputeInvoiceTotals(items, dec("-5"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = ComputeInvoiceTotals(items, dec("1.234"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestValidateItem(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*InvoiceItem)
		field string
	}{
		{"unknown type", func(it *InvoiceItem) { it.ItemType = "ROOM" }, "item_type"},
		{"short description", func(it *InvoiceItem) { it.Description = " ab " }, "description"},
		{"zero quantity", func(it *InvoiceItem) { it.Quantity = 0 }, "quantity"},
		{"negative price", func(it *InvoiceItem) { it.UnitPrice = dec("-1") }, "unit_price"},
		{"fractional cents", func(it *InvoiceItem) { it.UnitPrice = dec("9.999") }, "unit_price"},
		{"negative discount", func(it *InvoiceItem) { it.Discount = dec("-0.01") }, "discount"},
		{"tax over 100", func(it *InvoiceItem) { it.TaxRate = dec("100.5") }, "tax_rate"},
		{"negative tax", func(it *InvoiceItem) { it.TaxRate = dec("-1") }, "tax_rate"},
		{"tax beyond 4 places", func(it *InvoiceItem) { it.TaxRate = dec("5.123456") }, "tax_rate"},
		{"long description", func(it *InvoiceItem) { it.Description = strings.Repeat("x", 501) }, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := consultItem(1, "100", "0", "5")
			tc.mut(&it)

			_, err := ComputeInvoiceTotals([]InvoiceItem{consultItem(1, "10", "0", "0"), it}, decimal.Zero)
			var ie *ItemError
			require.True(t, errors.As(err, &ie), "expected ItemError, got %v", err)
			assert.Equal(t, 1, ie.Index)
			assert.Equal(t, tc.field, ie.Field)
			assert.True(t, errors.Is(err, ErrInvalidInvoiceItem))
		})
	}
}

func TestValidateItem_StorageLimits(t *testing.T) {
	it := consultItem(1, "100", "0", "12.3456")
	it.Description = strings.Repeat("é", 500)
	assert.NoError(t, ValidateItem(0, it))

	totals, err := ComputeInvoiceTotals([]InvoiceItem{it}, decimal.Zero)
	require.NoError(t, err)
	assertMoney(t, "tax_amount", totals.TaxAmount, "12.35")
}
