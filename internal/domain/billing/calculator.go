package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	minDescriptionLen = 3
	maxDescriptionLen = 500

	// TaxRatePlaces is the precision tax rates are stored at (NUMERIC(7,4)).
	TaxRatePlaces = 4
)

// ValidateItem checks a single line item. index is reported back in the
// returned ItemError.
func ValidateItem(index int, it InvoiceItem) error {
	if !it.ItemType.Valid() {
		return &ItemError{Index: index, Field: "item_type", Reason: "must be one of SERVICE, MEDICATION, LAB_TEST, PROCEDURE, CONSULTATION, OTHER"}
	}
	if len([]rune(strings.TrimSpace(it.Description))) < minDescriptionLen {
		return &ItemError{Index: index, Field: "description", Reason: "must be at least 3 characters"}
	}
	if len([]rune(it.Description)) > maxDescriptionLen {
		return &ItemError{Index: index, Field: "description", Reason: "must be at most 500 characters"}
	}
	if it.Quantity < 1 {
		return &ItemError{Index: index, Field: "quantity", Reason: "must be at least 1"}
	}
	if it.UnitPrice.IsNegative() {
		return &ItemError{Index: index, Field: "unit_price", Reason: "must not be negative"}
	}
	if err := RequireMinorUnits("unit_price", it.UnitPrice); err != nil {
		return &ItemError{Index: index, Field: "unit_price", Reason: "must not have more than 2 decimal places"}
	}
	if it.Discount.IsNegative() {
		return &ItemError{Index: index, Field: "discount", Reason: "must not be negative"}
	}
	if err := RequireMinorUnits("discount", it.Discount); err != nil {
		return &ItemError{Index: index, Field: "discount", Reason: "must not have more than 2 decimal places"}
	}
	if it.TaxRate.IsNegative() || it.TaxRate.GreaterThan(hundred) {
		return &ItemError{Index: index, Field: "tax_rate", Reason: "must be between 0 and 100"}
	}
	if !it.TaxRate.Equal(it.TaxRate.Truncate(TaxRatePlaces)) {
		return &ItemError{Index: index, Field: "tax_rate", Reason: "must not have more than 4 decimal places"}
	}
	return nil
}

// ItemSubtotal is quantity * unit price, before discount and tax.
func ItemSubtotal(it InvoiceItem) decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// ItemAfterDiscount clamps at zero: a discount larger than the subtotal
// zeroes the line rather than producing a credit.
func ItemAfterDiscount(it InvoiceItem) decimal.Decimal {
	return decimal.Max(decimal.Zero, ItemSubtotal(it).Sub(it.Discount))
}

func ItemTax(it InvoiceItem) decimal.Decimal {
	return ApplyPercent(ItemAfterDiscount(it), it.TaxRate)
}

// LineTotal is the discounted, taxed amount for one item.
func LineTotal(it InvoiceItem) decimal.Decimal {
	return ItemAfterDiscount(it).Add(ItemTax(it))
}

// ComputeInvoiceTotals derives the invoice totals from its items and the
// caller-supplied global discount. It is pure; identical input always gives
// identical output.
func ComputeInvoiceTotals(items []InvoiceItem, globalDiscount decimal.Decimal) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, &ItemError{Index: -1, Field: "items", Reason: "must contain at least one item"}
	}
	if err := RequireNonNegative("discount_amount", globalDiscount); err != nil {
		return Totals{}, err
	}
	if err := RequireMinorUnits("discount_amount", globalDiscount); err != nil {
		return Totals{}, err
	}

	subTotal := decimal.Zero
	taxAmount := decimal.Zero
	for i, it := range items {
		if err := ValidateItem(i, it); err != nil {
			return Totals{}, err
		}
		subTotal = subTotal.Add(ItemSubtotal(it))
		taxAmount = taxAmount.Add(ItemTax(it))
	}

	limit := subTotal.Add(taxAmount)
	if globalDiscount.GreaterThan(limit) {
		return Totals{}, &DiscountError{Discount: globalDiscount, Limit: limit}
	}

	total := limit.Sub(globalDiscount)
	return Totals{
		SubTotal:       RoundMoney(subTotal),
		TaxAmount:      RoundMoney(taxAmount),
		DiscountAmount: RoundMoney(globalDiscount),
		TotalAmount:    RoundMoney(decimal.Max(decimal.Zero, total)),
	}, nil
}
