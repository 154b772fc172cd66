// Package sizing implements the volatility-scaled "N-unit" position
// sizer. The safe-divide / NaN-guard / cap-then-recompute algorithm
// shape is grounded on
// original_source/core/risk/position_sizer.py's PositionSizer.calculate,
// but every numeric default here is the documented production default,
// not the Python file's non-production placeholder constructor
// defaults, and all monetary
// arithmetic runs on money.D rather than float64.
package sizing

import (
	"quantengine/internal/money"
)

// Config holds the sizer's tunable parameters.
type Config struct {
	RiskPerTradePct   money.D // e.g. 0.01 for 1%
	StopATRMultiplier money.D // e.g. 2.0
	MinNotional       money.D // e.g. 5
	MaxNotional       money.D // e.g. 1000
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:   money.FromFloat(0.01),
		StopATRMultiplier: money.FromFloat(2.0),
		MinNotional:       money.FromInt(5),
		MaxNotional:       money.FromInt(1000),
	}
}

// Result is the outcome of a sizing calculation.
type Result struct {
	Valid           bool
	Reason          string
	Quantity        money.D
	PositionValue   money.D
	RiskAmount      money.D
	StopDistance    money.D
}

func rejected(reason string, riskAmount money.D) Result {
	return Result{Valid: false, Reason: reason, RiskAmount: riskAmount}
}

// Sizer computes ATR-scaled quantities against a venue's filter
// metadata.
type Sizer struct {
	cfg Config
}

// New builds a Sizer from cfg.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Calculate sizes a position given account equity, the proposed entry
// price, the current ATR, and the instrument's lot step and tick size.
// lotStep/tickSize of zero disables the corresponding rounding step.
func (s *Sizer) Calculate(equity, price, atr, lotStep, tickSize money.D) Result {
	if equity.Sign() <= 0 {
		return rejected("invalid equity (must be positive)", money.Zero)
	}
	if price.Sign() <= 0 {
		return rejected("invalid price (must be positive)", money.Zero)
	}
	if atr.Sign() < 0 {
		atr = money.Zero
	}

	riskAmount := equity.Mul(s.cfg.RiskPerTradePct)

	stopDistance := atr.Mul(s.cfg.StopATRMultiplier)
	if stopDistance.Sign() <= 0 {
		return rejected("invalid stop distance (ATR is zero)", riskAmount)
	}

	positionValue := safeDivide(riskAmount, stopDistance)
	if positionValue.Sign() <= 0 {
		return rejected("calculation error - invalid position value", riskAmount)
	}

	if positionValue.LessThan(s.cfg.MinNotional) {
		return Result{Valid: false, Reason: "position value below minimum notional", RiskAmount: riskAmount, StopDistance: stopDistance, PositionValue: positionValue}
	}

	finalValue := positionValue
	if finalValue.GreaterThan(s.cfg.MaxNotional) {
		finalValue = s.cfg.MaxNotional
	}

	quantity := safeDivide(finalValue, money.RoundToTick(price, tickSize))
	if quantity.Sign() <= 0 {
		return rejected("calculation error - invalid quantity", riskAmount)
	}

	quantity = money.RoundDownToStep(quantity, lotStep)
	if quantity.Sign() <= 0 {
		return Result{Valid: false, Reason: "QUANTITY_TOO_SMALL", RiskAmount: riskAmount, StopDistance: stopDistance, PositionValue: finalValue}
	}

	return Result{
		Valid:         true,
		Quantity:      quantity,
		PositionValue: quantity.Mul(price),
		RiskAmount:    riskAmount,
		StopDistance:  stopDistance,
	}
}

func safeDivide(numerator, denominator money.D) money.D {
	if denominator.Sign() == 0 {
		return money.Zero
	}
	return numerator.Div(denominator)
}
