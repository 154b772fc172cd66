// Package money provides the decimal type used for every quantity that
// needs exact arithmetic: equity, prices, notional, and venue-rounded
// order quantities. Indicators stay on float64; this package is only for
// values that must never accumulate floating-point drift.
package money

import (
	"github.com/shopspring/decimal"
)

// D is the decimal type used throughout the engine for money-valued
// fields. It is a thin alias so call sites read like ordinary arithmetic
// while keeping a single import to swap out later.
type D = decimal.Decimal

// Zero is the additive identity, exported for readable comparisons.
var Zero = decimal.Zero

// FromFloat builds a D from a float64. Reserved for boundary conversions
// (feature-map floats like ATR feeding into the sizer); never chain
// float64 math on the result.
func FromFloat(f float64) D {
	return decimal.NewFromFloat(f)
}

// FromString parses a decimal literal, returning an error on malformed
// input. Used when decoding venue responses that arrive as strings.
func FromString(s string) (D, error) {
	return decimal.NewFromString(s)
}

// FromInt builds a D from an int64, used for lot/tick step counts.
func FromInt(i int64) D {
	return decimal.NewFromInt(i)
}

// RoundDownToStep rounds v down to the nearest multiple of step. Used for
// lot-step quantity rounding; step must be positive.
func RoundDownToStep(v, step D) D {
	if step.Sign() <= 0 {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}

// RoundToTick rounds v to the nearest multiple of tick. Used for price
// rounding to a venue's tick size; ties round half up.
func RoundToTick(v, tick D) D {
	if tick.Sign() <= 0 {
		return v
	}
	units := v.DivRound(tick, 0)
	return units.Mul(tick)
}
