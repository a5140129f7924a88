package billing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of fractional digits kept for currency amounts.
const MinorUnits = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to the currency's minor unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// MoneyFromFloat converts a float input (e.g. from a form) into an exact
// decimal amount. Non-finite values are rejected.
func MoneyFromFloat(field string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, &AmountError{Field: field, Reason: "must be a finite number"}
	}
	return RoundMoney(decimal.NewFromFloat(f)), nil
}

// ParseMoney parses a decimal string. Strings like "NaN" or "Inf" fail to
// parse and are reported as invalid amounts.
func ParseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &AmountError{Field: field, Value: s, Reason: "is not a decimal number"}
	}
	return d, nil
}

func RequireNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &AmountError{Field: field, Value: d.String(), Reason: "must not be negative"}
	}
	return nil
}

func RequirePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return &AmountError{Field: field, Value: d.String(), Reason: "must be greater than zero"}
	}
	return nil
}

// RequireMinorUnits rejects amounts finer than the currency's minor unit,
// so 10.005 is an error rather than a silent rounding.
func RequireMinorUnits(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MinorUnits)) {
		return &AmountError{Field: field, Value: d.String(), Reason: "has more than 2 decimal places"}
	}
	return nil
}

// ApplyPercent returns d * rate / 100 rounded to the minor unit.
func ApplyPercent(d, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(d.Mul(rate).Div(hundred))
}

// FormatMoney renders an amount with exactly two decimals, prefixed with the
// currency code when one is given.
func FormatMoney(d decimal.Decimal, currency string) string {
	if currency == "" {
		return d.StringFixed(MinorUnits)
	}
	return currency + " " + d.StringFixed(MinorUnits)
}
