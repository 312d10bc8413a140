package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits kept for stored amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Zero is the additive identity, kept for readability at call sites.
var Zero = decimal.Zero

// New builds an amount from an integer number of currency units.
func New(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// Round rounds half-up (away from zero for positives) to Scale places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns pct% of amount, rounded half-up.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
