package regime

import (
	"testing"

	"quantengine/internal/market"
)

func fmWith(adx, ema20, ema50, atrPct float64) market.FeatureMap {
	return market.FeatureMap{Values: map[string]float64{
		market.FeatureADX14:  adx,
		market.FeatureEMA20:  ema20,
		market.FeatureEMA50:  ema50,
		market.FeatureATRPct: atrPct,
	}}
}

func TestClassifyStartsUnknown(t *testing.T) {
	c := New()
	fm := market.FeatureMap{Values: map[string]float64{}}
	rg := c.Classify("SOL_USDC_PERP", fm)
	if rg.Directional != market.DirUnknown {
		t.Fatalf("Directional = %s, want UNKNOWN", rg.Directional)
	}
	if rg.Volatility != market.VolNormal {
		t.Fatalf("Volatility = %s, want NORMAL", rg.Volatility)
	}
}

func TestClassifyRequiresConfirmBarsForBull(t *testing.T) {
	c := New()
	bull := fmWith(30, 110, 100, 1.0)

	for i := 0; i < bullBearConfirmBars-1; i++ {
		rg := c.Classify("SOL_USDC_PERP", bull)
		if rg.Directional == market.DirBull {
			t.Fatalf("classified BULL after only %d confirming bars", i+1)
		}
	}
	rg := c.Classify("SOL_USDC_PERP", bull)
	if rg.Directional != market.DirBull {
		t.Fatalf("Directional = %s, want BULL after %d confirming bars", rg.Directional, bullBearConfirmBars)
	}
}

func TestClassifyHoldsPriorOnBrokenStreak(t *testing.T) {
	c := New()
	bull := fmWith(30, 110, 100, 1.0)
	for i := 0; i < bullBearConfirmBars; i++ {
		c.Classify("SOL_USDC_PERP", bull)
	}

	neutral := fmWith(30, 100, 100, 1.0) // neither bull nor bear nor range condition
	rg := c.Classify("SOL_USDC_PERP", neutral)
	if rg.Directional != market.DirBull {
		t.Fatalf("Directional = %s, want BULL to be held via hysteresis", rg.Directional)
	}
}

func TestClassifyMissingFeaturesHoldsDirectionalUnchanged(t *testing.T) {
	c := New()
	bull := fmWith(30, 110, 100, 1.0)
	for i := 0; i < bullBearConfirmBars; i++ {
		c.Classify("SOL_USDC_PERP", bull)
	}

	partial := market.FeatureMap{Values: map[string]float64{market.FeatureATRPct: 1.0}}
	rg := c.Classify("SOL_USDC_PERP", partial)
	if rg.Directional != market.DirBull {
		t.Fatalf("Directional = %s, want BULL held when ADX/EMA are absent", rg.Directional)
	}
}

func TestClassifyVolatilityBands(t *testing.T) {
	c := New()
	cases := []struct {
		atrPct float64
		want   market.Volatility
	}{
		{0.1, market.VolLow},
		{1.0, market.VolNormal},
		{2.0, market.VolHigh},
	}
	for _, tc := range cases {
		rg := c.Classify("SOL_USDC_PERP", fmWith(10, 100, 100, tc.atrPct))
		if rg.Volatility != tc.want {
			t.Fatalf("atrPct=%v Volatility = %s, want %s", tc.atrPct, rg.Volatility, tc.want)
		}
	}
}

func TestClassifyIsPerInstrument(t *testing.T) {
	c := New()
	bull := fmWith(30, 110, 100, 1.0)
	for i := 0; i < bullBearConfirmBars; i++ {
		c.Classify("SOL_USDC_PERP", bull)
	}

	other := c.Classify("BTC_USDC_PERP", market.FeatureMap{Values: map[string]float64{}})
	if other.Directional != market.DirUnknown {
		t.Fatalf("expected a fresh instrument to start UNKNOWN, got %s", other.Directional)
	}
}
