package offline

import (
	"context"
	"testing"

	"quantengine/internal/money"
	"quantengine/internal/venue"
)

func TestExchangeInfoReturnsDefaultFiltersByDefault(t *testing.T) {
	a := New()
	f, err := a.ExchangeInfo(context.Background(), "SOL_USDC_PERP")
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}
	if f.Instrument != "SOL_USDC_PERP" {
		t.Fatalf("Instrument = %s", f.Instrument)
	}
	if !f.LotStep.Equal(DefaultFilters.LotStep) || !f.MinNotional.Equal(DefaultFilters.MinNotional) {
		t.Fatalf("expected default filters, got %+v", f)
	}
}

func TestWithFiltersOverridesPerInstrument(t *testing.T) {
	a := New().WithFilters("BTC_USDC_PERP", venue.Filters{
		LotStep: money.FromFloat(0.001), TickSize: money.FromFloat(0.5), MinNotional: money.FromFloat(10),
	})
	f, err := a.ExchangeInfo(context.Background(), "BTC_USDC_PERP")
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}
	if !f.LotStep.Equal(money.FromFloat(0.001)) || !f.MinNotional.Equal(money.FromFloat(10)) {
		t.Fatalf("expected the overridden filters, got %+v", f)
	}

	other, err := a.ExchangeInfo(context.Background(), "SOL_USDC_PERP")
	if err != nil {
		t.Fatalf("ExchangeInfo: %v", err)
	}
	if !other.LotStep.Equal(DefaultFilters.LotStep) {
		t.Fatal("expected an un-overridden instrument to still receive DefaultFilters")
	}
}

func TestNewOrderReturnsSequentialFilledAcks(t *testing.T) {
	a := New()
	first, err := a.NewOrder(context.Background(), venue.OrderRequest{Instrument: "SOL_USDC_PERP", Side: venue.SideBuy, Kind: venue.KindMarket, Price: money.FromFloat(100)})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	second, err := a.NewOrder(context.Background(), venue.OrderRequest{Instrument: "SOL_USDC_PERP", Side: venue.SideBuy, Kind: venue.KindMarket, Price: money.FromFloat(100)})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if first.OrderID == second.OrderID {
		t.Fatalf("expected distinct sequential order IDs, got %s and %s", first.OrderID, second.OrderID)
	}
	if first.Status != "FILLED" || second.Status != "FILLED" {
		t.Fatalf("expected synthetic fills to report FILLED, got %s/%s", first.Status, second.Status)
	}
	if !first.FillPrice.Equal(money.FromFloat(100)) {
		t.Fatalf("FillPrice = %s, want the requested price echoed back", first.FillPrice)
	}
}

func TestNoOpMethodsNeverError(t *testing.T) {
	a := New()
	ctx := context.Background()
	if err := a.SetLeverage(ctx, 5); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	if err := a.CancelOrder(ctx, "SOL_USDC_PERP", "OFFLINE_1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if orders, err := a.OpenOrders(ctx, "SOL_USDC_PERP"); err != nil || orders != nil {
		t.Fatalf("OpenOrders = %v, %v", orders, err)
	}
	if positions, err := a.Positions(ctx, "SOL_USDC_PERP"); err != nil || positions != nil {
		t.Fatalf("Positions = %v, %v", positions, err)
	}
	if balances, err := a.Balances(ctx); err != nil || balances != nil {
		t.Fatalf("Balances = %v, %v", balances, err)
	}
}
