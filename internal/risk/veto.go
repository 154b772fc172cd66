// Package risk implements the hierarchical pre-trade veto chain, ordered
// and short-circuiting exactly as
// original_source/core/risk/pre_trade_veto.py's five named stages, with
// USDT amounts carried as money.D instead of float64 per the decimal-
// semantics requirement.
package risk

import (
	"fmt"

	"quantengine/internal/market"
	"quantengine/internal/money"
)

// Config holds the veto thresholds, one field per stage.
type Config struct {
	MaxPositionSize        money.D
	MaxPositions           int
	MaxCorrelationExposure money.D
	MaxDrawdownPct         float64
	DailyLossLimitPct      float64
}

// Result is the outcome of running the veto chain.
type Result struct {
	Approved         bool
	VetoStage        string
	VetoReason       string
	AdjustedQuantity money.D
	AdjustedPrice    money.D
}

func approve(qty, price money.D) Result {
	return Result{Approved: true, AdjustedQuantity: qty, AdjustedPrice: price}
}

func veto(stage, reason string) Result {
	return Result{Approved: false, VetoStage: stage, VetoReason: reason}
}

// PositionState is the subset of SystemState the veto chain needs.
type PositionState struct {
	OpenPositions     map[string]struct{}
	CurrentDrawdownPct float64
	DailyPnLPct        float64
}

// Chain evaluates a proposed order through the five ordered stages. The
// stage order and comparison operators are grounded verbatim on the
// original: position_size, max_positions, correlation, drawdown,
// daily_loss.
type Chain struct {
	cfg Config
}

// New builds a Chain from cfg.
func New(cfg Config) *Chain {
	return &Chain{cfg: cfg}
}

// Evaluate runs signal through the chain. NEUTRAL and CLOSE actions are
// always approved unconditionally, matching the original's early return.
func (c *Chain) Evaluate(instrument string, action market.Action, state PositionState, quantity, price money.D) Result {
	if action == market.ActionNeutral || action == market.ActionClose {
		return approve(quantity, price)
	}

	if r := c.checkPositionSize(quantity, price); !r.Approved {
		return r
	}
	if r := c.checkMaxPositions(instrument, state); !r.Approved {
		return r
	}
	if r := c.checkCorrelation(state); !r.Approved {
		return r
	}
	if r := c.checkDrawdown(state); !r.Approved {
		return r
	}
	if r := c.checkDailyLoss(state); !r.Approved {
		return r
	}

	return approve(quantity, price)
}

func (c *Chain) checkPositionSize(quantity, price money.D) Result {
	if quantity.Sign() <= 0 {
		return approve(quantity, price)
	}
	positionValue := quantity.Mul(price)
	if positionValue.GreaterThan(c.cfg.MaxPositionSize) {
		return veto("position_size", fmt.Sprintf("position size %s exceeds limit %s", positionValue.StringFixed(2), c.cfg.MaxPositionSize.StringFixed(2)))
	}
	return approve(quantity, price)
}

func (c *Chain) checkMaxPositions(instrument string, state PositionState) Result {
	if _, open := state.OpenPositions[instrument]; !open {
		if len(state.OpenPositions) >= c.cfg.MaxPositions {
			return veto("max_positions", fmt.Sprintf("maximum positions (%d) already open", c.cfg.MaxPositions))
		}
	}
	return Result{Approved: true}
}

// checkCorrelation is a structural placeholder: the veto chain needs
// the stage to exist but no correlation metric has been settled on yet.
// It always approves.
func (c *Chain) checkCorrelation(state PositionState) Result {
	return Result{Approved: true}
}

func (c *Chain) checkDrawdown(state PositionState) Result {
	if state.CurrentDrawdownPct >= c.cfg.MaxDrawdownPct {
		return veto("drawdown", fmt.Sprintf("current drawdown (%.2f%%) exceeds limit (%.2f%%)", state.CurrentDrawdownPct, c.cfg.MaxDrawdownPct))
	}
	return Result{Approved: true}
}

func (c *Chain) checkDailyLoss(state PositionState) Result {
	if state.DailyPnLPct <= -c.cfg.DailyLossLimitPct {
		return veto("daily_loss", fmt.Sprintf("daily loss (%.2f%%) exceeds limit (-%.2f%%)", state.DailyPnLPct, c.cfg.DailyLossLimitPct))
	}
	return Result{Approved: true}
}
