// Package money provides the fixed-point arithmetic helpers shared by the
// discount engine. All monetary values are shopspring decimals; rounding to
// currency precision happens exactly once, at the end of a computation.
package money

import "github.com/shopspring/decimal"

// CurrencyPlaces is the number of decimal places amounts are rounded to.
const CurrencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to currency precision using round-half-to-even.
// Intermediate sums must stay unrounded; callers apply Round once on the
// final amount to avoid cumulative drift.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CurrencyPlaces)
}

// Percent returns base × pct / 100, unrounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if b.LessThan(a) {
		return b
	}
	return a
}

// ClampNonNegative floors negative amounts at zero.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
