package rules

import (
	"sort"
	"time"

	"quantengine/internal/market"
)

// ActivationThreshold is the default |bias| a triggered rule set must
// clear to become a directional proposal rather than NEUTRAL.
const ActivationThreshold = 0.7

// Engine evaluates the immutable rule catalog against a regime and
// FeatureMap, aggregating triggered rules into one Signal per bar-close.
// Grounded on original_source/core/decision/rule_engine.py's evaluate-
// then-aggregate loop, with the RANGE sideways veto (step 2) added since
// the original does not implement it.
type Engine struct {
	rules      []market.Rule
	weights    map[string]float64
	Activation float64
}

// NewEngine registers the canonical catalog with every strategy weight
// defaulted to 1.
func NewEngine() *Engine {
	rules := Catalog()
	weights := make(map[string]float64, len(rules))
	for _, r := range rules {
		weights[r.Name] = 1.0
	}
	return &Engine{rules: rules, weights: weights, Activation: ActivationThreshold}
}

// SetStrategyWeight overrides the aggregation weight for a named rule.
// Kept as the hook an adaptive-parameter tuner would call; the tuner
// itself is out of scope.
func (e *Engine) SetStrategyWeight(ruleName string, w float64) {
	e.weights[ruleName] = w
}

// Weight returns the current aggregation weight for a named rule.
func (e *Engine) Weight(ruleName string) float64 {
	return e.weights[ruleName]
}

// Evaluate runs the five-step rule aggregation algorithm and returns
// the resulting Signal. suggestedPrice is the bar's closing price; atr
// is the current ATR14 (0 if absent).
func (e *Engine) Evaluate(instrument string, fm market.FeatureMap, regime market.Regime, suggestedPrice, atr float64) market.Signal {
	sig := market.Signal{
		Instrument:     instrument,
		Action:         market.ActionNeutral,
		Regime:         regime,
		ATR:            atr,
		SuggestedPrice: suggestedPrice,
		EmittedAt:      time.Time{},
	}

	var triggered []market.Rule
	for _, r := range e.rules {
		if !r.AllowsRegime(regime.Directional) {
			continue
		}
		if regime.Directional == market.DirRange && (r.Class == market.ClassTrend || r.Class == market.ClassBreakout) {
			continue
		}
		if r.Condition(fm) {
			triggered = append(triggered, r)
		}
	}

	if len(triggered) == 0 {
		return sig
	}

	// Deterministic regardless of catalog iteration order: sort the
	// triggered set by name before folding weights in.
	sort.Slice(triggered, func(i, j int) bool { return triggered[i].Name < triggered[j].Name })

	var weightedSum, weightSum float64
	var longVotes, shortVotes int
	names := make([]string, 0, len(triggered))
	for _, r := range triggered {
		w := e.weights[r.Name]
		if w == 0 {
			w = 1.0
		}
		weightedSum += r.Bias * w
		weightSum += w
		names = append(names, r.Name)
		if r.Bias > 0 {
			longVotes++
		} else if r.Bias < 0 {
			shortVotes++
		}
	}

	bias := 0.0
	if weightSum > 0 {
		bias = weightedSum / weightSum
	}
	total := longVotes + shortVotes
	confidence := 0.0
	if total > 0 {
		votes := longVotes
		if shortVotes > votes {
			votes = shortVotes
		}
		confidence = float64(votes) / float64(total)
	}

	sig.Bias = bias
	sig.Confidence = confidence
	sig.ContributingRules = names

	switch {
	case bias >= e.Activation:
		sig.Action = market.ActionProposeLong
	case bias <= -e.Activation:
		sig.Action = market.ActionProposeShort
	default:
		sig.Action = market.ActionNeutral
	}

	return sig
}
