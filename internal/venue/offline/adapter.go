// Package offline provides a venue.Adapter that never leaves the
// process, so DRY_RUN can run the full pipeline (including the
// exchange-info lookup the orchestrator makes on every proposal)
// without venue credentials. It mirrors backpack.Client's method
// shapes but returns static, deterministic values instead of signing
// and sending HTTP requests.
package offline

import (
	"context"
	"fmt"

	"quantengine/internal/money"
	"quantengine/internal/venue"
)

// DefaultFilters is used for every instrument unless overridden via
// WithFilters.
var DefaultFilters = venue.Filters{
	LotStep:     money.FromFloat(0.01),
	TickSize:    money.FromFloat(0.01),
	MinNotional: money.FromFloat(5),
}

// Adapter is a no-network venue.Adapter for local dry runs.
type Adapter struct {
	filters map[string]venue.Filters
	seq     int64
}

// New builds an offline Adapter using DefaultFilters for every
// instrument.
func New() *Adapter {
	return &Adapter{filters: make(map[string]venue.Filters)}
}

// WithFilters overrides the filters reported for instrument.
func (a *Adapter) WithFilters(instrument string, f venue.Filters) *Adapter {
	a.filters[instrument] = f
	return a
}

func (a *Adapter) ExchangeInfo(ctx context.Context, instrument string) (venue.Filters, error) {
	if f, ok := a.filters[instrument]; ok {
		f.Instrument = instrument
		return f, nil
	}
	f := DefaultFilters
	f.Instrument = instrument
	return f, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, leverage int) error {
	return nil
}

func (a *Adapter) NewOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	a.seq++
	return venue.OrderAck{
		OrderID:   fmt.Sprintf("OFFLINE_%d", a.seq),
		Status:    "FILLED",
		FillPrice: req.Price,
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, instrument, orderID string) error {
	return nil
}

func (a *Adapter) OpenOrders(ctx context.Context, instrument string) ([]venue.OrderAck, error) {
	return nil, nil
}

func (a *Adapter) Positions(ctx context.Context, instrument string) ([]venue.Position, error) {
	return nil, nil
}

func (a *Adapter) Balances(ctx context.Context) ([]venue.Balance, error) {
	return nil, nil
}

var _ venue.Adapter = (*Adapter)(nil)
