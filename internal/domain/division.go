package domain

import "github.com/shopspring/decimal"

// SafeDiv divides num by den. A zero denominator yields an invalid
// NullDecimal, which is how every undefined metric is represented.
func SafeDiv(num, den decimal.Decimal) decimal.NullDecimal {
	if den.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(num.Div(den))
}
