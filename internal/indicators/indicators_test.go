package indicators

import (
	"testing"

	"quantengine/internal/barbuffer"
	"quantengine/internal/market"
)

func linearBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		price := float64(i + 1)
		bars[i] = market.Bar{
			OpenTimeMs: int64(i + 1),
			Open:       price,
			High:       price + 0.5,
			Low:        price - 0.5,
			Close:      price,
			Volume:     10 * price,
		}
	}
	return bars
}

func TestComputeUnderPopulatedReturnsEmpty(t *testing.T) {
	fm := Compute("SOL_USDC_PERP", linearBars(barbuffer.MinBars-1))
	if len(fm.Values) != 0 {
		t.Fatalf("expected no features below MinBars, got %v", fm.Values)
	}
}

func TestComputeSetsCloseAndAtBar(t *testing.T) {
	bars := linearBars(60)
	fm := Compute("SOL_USDC_PERP", bars)

	if fm.AtBar != bars[len(bars)-1].OpenTimeMs {
		t.Fatalf("AtBar = %d, want %d", fm.AtBar, bars[len(bars)-1].OpenTimeMs)
	}
	got, ok := fm.Get(market.FeatureClose)
	if !ok || got != 60 {
		t.Fatalf("CLOSE = %v, %v, want 60", got, ok)
	}
}

func TestComputeDetectsBreakoutsOnMonotonicRise(t *testing.T) {
	bars := linearBars(60)
	fm := Compute("SOL_USDC_PERP", bars)

	up20, ok := fm.Get(market.FeatureBreakoutUp20)
	if !ok || up20 != 1 {
		t.Fatalf("BREAKOUT_UP_20 = %v, %v, want 1", up20, ok)
	}
	up55, ok := fm.Get(market.FeatureBreakoutUp55)
	if !ok || up55 != 1 {
		t.Fatalf("BREAKOUT_UP_55 = %v, %v, want 1", up55, ok)
	}
	dn20, ok := fm.Get(market.FeatureBreakoutDn20)
	if !ok || dn20 != 0 {
		t.Fatalf("BREAKOUT_DOWN_20 = %v, %v, want 0", dn20, ok)
	}

	high20, ok := fm.Get(market.FeatureHigh20)
	if !ok || high20 != bars[58].High {
		t.Fatalf("HIGH_20 = %v, %v, want %v", high20, ok, bars[58].High)
	}
}

func TestComputeVolumeSMA20(t *testing.T) {
	bars := linearBars(60)
	fm := Compute("SOL_USDC_PERP", bars)

	sum := 0.0
	for i := 40; i < 60; i++ {
		sum += bars[i].Volume
	}
	want := sum / 20

	got, ok := fm.Get(market.FeatureVolumeSMA20)
	if !ok || got != want {
		t.Fatalf("VOLUME_SMA20 = %v, %v, want %v", got, ok, want)
	}
}

func TestComputeRSIIsBoundedAndPresentWithEnoughHistory(t *testing.T) {
	bars := linearBars(60)
	fm := Compute("SOL_USDC_PERP", bars)

	rsi, ok := fm.Get(market.FeatureRSI14)
	if !ok {
		t.Fatal("expected RSI14 to be present with 60 bars of history")
	}
	if rsi < 0 || rsi > 100 {
		t.Fatalf("RSI14 = %v out of [0,100]", rsi)
	}
}
