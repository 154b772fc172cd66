// Package rules holds the canonical, immutable rule catalog and the
// engine that evaluates it against a regime and FeatureMap. The catalog
// is transcribed (renamed and rewritten in Go idiom, not copied
// verbatim) from original_source/strategies/trading_rules.py; the
// aggregation algorithm is grounded on
// original_source/core/decision/rule_engine.py with a RANGE-regime
// sideways veto added, which the original does not implement.
package rules

import "quantengine/internal/market"

func has(fm market.FeatureMap, names ...string) bool { return fm.Has(names...) }

// Catalog returns the 19 canonical rules, freshly constructed. Callers
// register the result once at startup; the slice itself is never
// mutated afterward.
func Catalog() []market.Rule {
	return []market.Rule{
		{
			Name: "TURTLE_20DAY_BREAKOUT_LONG", Class: market.ClassBreakout, Bias: 0.7,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				return has(fm, market.FeatureBreakoutUp20) && fm.Values[market.FeatureBreakoutUp20] != 0
			},
		},
		{
			Name: "TURTLE_20DAY_BREAKOUT_SHORT", Class: market.ClassBreakout, Bias: -0.7,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				return has(fm, market.FeatureBreakoutDn20) && fm.Values[market.FeatureBreakoutDn20] != 0
			},
		},
		{
			Name: "TURTLE_55DAY_BREAKOUT_LONG", Class: market.ClassBreakout, Bias: 0.9,
			AllowedRegimes: []market.Direction{market.DirBull}, MinConfidence: 0.7,
			Condition: func(fm market.FeatureMap) bool {
				return has(fm, market.FeatureBreakoutUp55) && fm.Values[market.FeatureBreakoutUp55] != 0
			},
		},
		{
			Name: "TURTLE_55DAY_BREAKOUT_SHORT", Class: market.ClassBreakout, Bias: -0.9,
			AllowedRegimes: []market.Direction{market.DirBear}, MinConfidence: 0.7,
			Condition: func(fm market.FeatureMap) bool {
				return has(fm, market.FeatureBreakoutDn55) && fm.Values[market.FeatureBreakoutDn55] != 0
			},
		},
		{
			Name: "RSI_OVERSOLD_LONG", Class: market.ClassMeanReversion, Bias: 0.6,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.5,
			Condition: func(fm market.FeatureMap) bool {
				rsi, ok := fm.Get(market.FeatureRSI14)
				return ok && rsi < 30
			},
		},
		{
			Name: "RSI_OVERBOUGHT_SHORT", Class: market.ClassMeanReversion, Bias: -0.6,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.5,
			Condition: func(fm market.FeatureMap) bool {
				rsi, ok := fm.Get(market.FeatureRSI14)
				return ok && rsi > 70
			},
		},
		{
			Name: "RSI_EXTREME_OVERSOLD", Class: market.ClassMeanReversion, Bias: 0.8,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				rsi, ok := fm.Get(market.FeatureRSI14)
				return ok && rsi < 20
			},
		},
		{
			Name: "RSI_EXTREME_OVERBOUGHT", Class: market.ClassMeanReversion, Bias: -0.8,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				rsi, ok := fm.Get(market.FeatureRSI14)
				return ok && rsi > 80
			},
		},
		{
			Name: "GOLDEN_CROSS", Class: market.ClassTrend, Bias: 0.5,
			AllowedRegimes: []market.Direction{market.DirBull}, MinConfidence: 0.4,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureEMA20, market.FeatureEMA50, market.FeatureADX14) {
					return false
				}
				return fm.Values[market.FeatureEMA20] > fm.Values[market.FeatureEMA50] && fm.Values[market.FeatureADX14] > 25
			},
		},
		{
			Name: "DEATH_CROSS", Class: market.ClassTrend, Bias: -0.5,
			AllowedRegimes: []market.Direction{market.DirBear}, MinConfidence: 0.4,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureEMA20, market.FeatureEMA50, market.FeatureADX14) {
					return false
				}
				return fm.Values[market.FeatureEMA20] <= fm.Values[market.FeatureEMA50] && fm.Values[market.FeatureADX14] > 25
			},
		},
		{
			Name: "BB_OVERSOLD", Class: market.ClassMeanReversion, Bias: 0.6,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.5,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureClose, market.FeatureBBLower, market.FeatureRSI14) {
					return false
				}
				return fm.Values[market.FeatureClose] < fm.Values[market.FeatureBBLower] && fm.Values[market.FeatureRSI14] < 40
			},
		},
		{
			Name: "BB_OVERBOUGHT", Class: market.ClassMeanReversion, Bias: -0.6,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.5,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureClose, market.FeatureBBUpper, market.FeatureRSI14) {
					return false
				}
				return fm.Values[market.FeatureClose] > fm.Values[market.FeatureBBUpper] && fm.Values[market.FeatureRSI14] > 60
			},
		},
		{
			Name: "STOCH_OVERSOLD", Class: market.ClassMeanReversion, Bias: 0.5,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.4,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureStochK, market.FeatureStochD) {
					return false
				}
				return fm.Values[market.FeatureStochK] < 20 && fm.Values[market.FeatureStochD] < 20
			},
		},
		{
			Name: "STOCH_OVERBOUGHT", Class: market.ClassMeanReversion, Bias: -0.5,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.4,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureStochK, market.FeatureStochD) {
					return false
				}
				return fm.Values[market.FeatureStochK] > 80 && fm.Values[market.FeatureStochD] > 80
			},
		},
		{
			Name: "STOCH_BULLISH_CROSS", Class: market.ClassMeanReversion, Bias: 0.4,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.3,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureStochK, market.FeatureStochD) {
					return false
				}
				return fm.Values[market.FeatureStochK] > fm.Values[market.FeatureStochD] && fm.Values[market.FeatureStochK] < 80
			},
		},
		{
			Name: "STRONG_UPTREND", Class: market.ClassTrend, Bias: 0.7,
			AllowedRegimes: []market.Direction{market.DirBull}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureADX14, market.FeatureEMA20, market.FeatureEMA50, market.FeatureRSI14) {
					return false
				}
				return fm.Values[market.FeatureADX14] > 25 && fm.Values[market.FeatureEMA20] > fm.Values[market.FeatureEMA50] && fm.Values[market.FeatureRSI14] > 50
			},
		},
		{
			Name: "STRONG_DOWNTREND", Class: market.ClassTrend, Bias: -0.7,
			AllowedRegimes: []market.Direction{market.DirBear}, MinConfidence: 0.6,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureADX14, market.FeatureEMA20, market.FeatureEMA50, market.FeatureRSI14) {
					return false
				}
				return fm.Values[market.FeatureADX14] > 25 && fm.Values[market.FeatureEMA20] <= fm.Values[market.FeatureEMA50] && fm.Values[market.FeatureRSI14] < 50
			},
		},
		{
			Name: "SUPER_BULLISH", Class: market.ClassCombo, Bias: 0.9,
			AllowedRegimes: []market.Direction{market.DirBull, market.DirRange}, MinConfidence: 0.7,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureRSI14, market.FeatureEMA20, market.FeatureEMA50, market.FeatureClose, market.FeatureBBMiddle, market.FeatureADX14) {
					return false
				}
				return fm.Values[market.FeatureRSI14] < 35 && fm.Values[market.FeatureEMA20] > fm.Values[market.FeatureEMA50] &&
					fm.Values[market.FeatureClose] < fm.Values[market.FeatureBBMiddle] && fm.Values[market.FeatureADX14] > 20
			},
		},
		{
			Name: "SUPER_BEARISH", Class: market.ClassCombo, Bias: -0.9,
			AllowedRegimes: []market.Direction{market.DirBear, market.DirRange}, MinConfidence: 0.7,
			Condition: func(fm market.FeatureMap) bool {
				if !has(fm, market.FeatureRSI14, market.FeatureEMA20, market.FeatureEMA50, market.FeatureClose, market.FeatureBBMiddle, market.FeatureADX14) {
					return false
				}
				return fm.Values[market.FeatureRSI14] > 65 && fm.Values[market.FeatureEMA20] <= fm.Values[market.FeatureEMA50] &&
					fm.Values[market.FeatureClose] > fm.Values[market.FeatureBBMiddle] && fm.Values[market.FeatureADX14] > 20
			},
		},
	}
}
