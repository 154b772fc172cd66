// Package regime classifies each instrument's directional and volatility
// regime on every bar-close. Struct shape is grounded on
// original_source/core/feature_engine/regime_detector.py's confirmation-
// bar history, but the fallback semantics diverge from the Python
// original: initial state is UNKNOWN and, absent a
// confirmed transition, the classifier holds the prior value (hysteresis)
// instead of the original's default-to-RANGE-on-empty-history behavior.
package regime

import "quantengine/internal/market"

const (
	bullBearADXThreshold  = 25.0
	bullBearConfirmBars   = 3
	rangeADXThreshold     = 20.0
	rangeConfirmBars      = 5
	lowVolatilityATRPct   = 0.5
	highVolatilityATRPct  = 1.5
)

// state is the per-instrument hysteresis state. Kept as a small struct
// keyed by instrument inside the classifier rather than a global
// mutable table.
type state struct {
	directional  market.Direction
	bullStreak   int
	bearStreak   int
	rangeStreak  int
}

// Classifier holds per-instrument hysteresis state. Build it with New;
// the zero value has a nil map and panics on first Classify. State is
// never persisted (Open Question (a): resets on
// restart, documented in SPEC_FULL.md).
type Classifier struct {
	instruments map[string]*state
}

// New builds an empty Classifier.
func New() *Classifier {
	return &Classifier{instruments: make(map[string]*state)}
}

func (c *Classifier) stateFor(instrument string) *state {
	s, ok := c.instruments[instrument]
	if !ok {
		s = &state{directional: market.DirUnknown}
		c.instruments[instrument] = s
	}
	return s
}

// Classify updates and returns the regime for instrument given its
// latest FeatureMap. Missing ADX/EMA/ATR% features leave the directional
// state unchanged (streaks do not advance) and report volatility as
// NORMAL, since a partial feature set carries no reliable signal.
func (c *Classifier) Classify(instrument string, fm market.FeatureMap) market.Regime {
	s := c.stateFor(instrument)

	adx, hasADX := fm.Get(market.FeatureADX14)
	ema20, hasEMA20 := fm.Get(market.FeatureEMA20)
	ema50, hasEMA50 := fm.Get(market.FeatureEMA50)

	if hasADX && hasEMA20 && hasEMA50 {
		bullCond := adx > bullBearADXThreshold && ema20 > ema50
		bearCond := adx > bullBearADXThreshold && ema20 < ema50
		rangeCond := adx < rangeADXThreshold

		if bullCond {
			s.bullStreak++
		} else {
			s.bullStreak = 0
		}
		if bearCond {
			s.bearStreak++
		} else {
			s.bearStreak = 0
		}
		if rangeCond {
			s.rangeStreak++
		} else {
			s.rangeStreak = 0
		}

		switch {
		case s.bullStreak >= bullBearConfirmBars:
			s.directional = market.DirBull
		case s.bearStreak >= bullBearConfirmBars:
			s.directional = market.DirBear
		case s.rangeStreak >= rangeConfirmBars:
			s.directional = market.DirRange
		}
		// otherwise: hold prior value (hysteresis)
	}

	vol := market.VolNormal
	if atrPct, ok := fm.Get(market.FeatureATRPct); ok {
		switch {
		case atrPct < lowVolatilityATRPct:
			vol = market.VolLow
		case atrPct > highVolatilityATRPct:
			vol = market.VolHigh
		}
	}

	return market.Regime{Directional: s.directional, Volatility: vol}
}
