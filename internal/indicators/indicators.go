// Package indicators computes the FeatureMap for a bar-close from a
// buffer snapshot, grounded on the teacher's use of
// github.com/markcheno/go-talib in src/indicators/calculator.go. talib's
// Rsi/Adx/Atr already apply Wilder smoothing to the standard
// definitions; rolling highs/lows, breakout flags, and volume
// SMA20 have no talib equivalent and are hand-rolled the same way the
// teacher hand-rolls its own EMA-stack trend checks.
package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"quantengine/internal/barbuffer"
	"quantengine/internal/market"
)

// Compute derives a FeatureMap from bars, the closed-bar snapshot of one
// instrument's buffer, oldest first. Returns an empty-valued FeatureMap
// (no panic) if bars is under-populated; callers should have already
// checked barbuffer.Ring.Ready before calling.
func Compute(instrument string, bars []market.Bar) market.FeatureMap {
	fm := market.FeatureMap{Instrument: instrument, Values: make(map[string]float64)}
	if len(bars) < barbuffer.MinBars {
		return fm
	}

	n := len(bars)
	fm.AtBar = bars[n-1].OpenTimeMs

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	last := n - 1
	fm.Values[market.FeatureClose] = closes[last]

	setLast(fm, market.FeatureRSI14, talib.Rsi(closes, 14), last)
	setLast(fm, market.FeatureEMA20, talib.Ema(closes, 20), last)
	setLast(fm, market.FeatureEMA50, talib.Ema(closes, 50), last)
	setLast(fm, market.FeatureADX14, talib.Adx(highs, lows, closes, 14), last)

	atr := talib.Atr(highs, lows, closes, 14)
	if v, ok := valueAt(atr, last); ok {
		fm.Values[market.FeatureATR14] = v
		if closes[last] != 0 {
			fm.Values[market.FeatureATRPct] = v / closes[last] * 100
		}
	}

	upper, mid, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	setLast(fm, market.FeatureBBUpper, upper, last)
	setLast(fm, market.FeatureBBMiddle, mid, last)
	setLast(fm, market.FeatureBBLower, lower, last)

	k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	setLast(fm, market.FeatureStochK, k, last)
	setLast(fm, market.FeatureStochD, d, last)

	if high20, low20, ok := rollingHighLow(highs, lows, last, 20); ok {
		fm.Values[market.FeatureHigh20] = high20
		fm.Values[market.FeatureLow20] = low20
		fm.Values[market.FeatureBreakoutUp20] = boolToFloat(closes[last] > high20)
		fm.Values[market.FeatureBreakoutDn20] = boolToFloat(closes[last] < low20)
	}
	if high55, low55, ok := rollingHighLow(highs, lows, last, 55); ok {
		fm.Values[market.FeatureHigh55] = high55
		fm.Values[market.FeatureLow55] = low55
		fm.Values[market.FeatureBreakoutUp55] = boolToFloat(closes[last] > high55)
		fm.Values[market.FeatureBreakoutDn55] = boolToFloat(closes[last] < low55)
	}

	if v, ok := volumeSMA(volumes, last, 20); ok {
		fm.Values[market.FeatureVolumeSMA20] = v
	}

	return fm
}

// setLast copies series[last] into fm under name, skipping it entirely
// when the value is absent, NaN, or infinite so a downstream rule simply
// never sees the key rather than tripping on a zero.
func setLast(fm market.FeatureMap, name string, series []float64, last int) {
	v, ok := valueAt(series, last)
	if !ok {
		return
	}
	fm.Values[name] = v
}

func valueAt(series []float64, idx int) (float64, bool) {
	if idx < 0 || idx >= len(series) {
		return 0, false
	}
	v := series[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// rollingHighLow computes the strict rolling max/min of the N bars
// strictly prior to last (excludes the current bar itself).
func rollingHighLow(highs, lows []float64, last, n int) (high, low float64, ok bool) {
	if last < n {
		return 0, 0, false
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := last - n; i < last; i++ {
		if highs[i] > high {
			high = highs[i]
		}
		if lows[i] < low {
			low = lows[i]
		}
	}
	return high, low, true
}

func volumeSMA(volumes []float64, last, n int) (float64, bool) {
	if last+1 < n {
		return 0, false
	}
	sum := 0.0
	for i := last - n + 1; i <= last; i++ {
		sum += volumes[i]
	}
	return sum / float64(n), true
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
