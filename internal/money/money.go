// Package money holds the rounding rules shared by every monetary amount in
// the engine. Amounts are decimal and settle to the cent.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places of the smallest currency unit.
const Places = 2

var Zero = decimal.Zero

// Round rounds d to the cent, half away from zero. For the non-negative
// amounts the engine works with this is round-half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FromFloat converts a full-precision float result into a rounded amount.
// NaN and infinities collapse to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero
	}
	return Round(decimal.NewFromFloat(f))
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Float returns d as a float64 for use in rate math.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
