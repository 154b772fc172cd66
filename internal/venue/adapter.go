// Package venue defines the exchange-facing boundary the engine talks
// through. Concrete adapters (internal/venue/backpack) implement this
// interface; nothing above this layer knows about ed25519 signing or
// any particular wire format, generalizing the way the teacher's
// src/backpack.Client is used directly today into a swappable seam.
package venue

import (
	"context"

	"quantengine/internal/money"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes the entry order from its protective stop.
type OrderKind string

const (
	KindMarket    OrderKind = "MARKET"
	KindStopMarket OrderKind = "STOP_MARKET"
)

// OrderRequest is a venue-agnostic order submission.
type OrderRequest struct {
	Instrument string
	Side       Side
	Kind       OrderKind
	Quantity   money.D
	Price      money.D // limit/trigger price; zero for plain market orders
	ReduceOnly bool
}

// OrderAck is the venue's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID  string
	Status   string
	FillPrice money.D
}

// Position is one open position as reported by the venue.
type Position struct {
	Instrument       string
	Quantity         money.D // signed: positive long, negative short
	EntryPrice       money.D
	MarkPrice        money.D
	UnrealizedPnL    money.D
	LiquidationPrice money.D
}

// Balance is one asset balance as reported by the venue.
type Balance struct {
	Asset     string
	Available money.D
	Locked    money.D
}

// Filters are the per-instrument order constraints the sizer and order
// manager round against, fetched once at startup and cached. The
// teacher's client has no equivalent call; this shape and
// the adapter method that returns it are new.
type Filters struct {
	Instrument  string
	LotStep     money.D
	TickSize    money.D
	MinNotional money.D
}

// Adapter is the full surface the engine needs from a venue.
type Adapter interface {
	ExchangeInfo(ctx context.Context, instrument string) (Filters, error)
	SetLeverage(ctx context.Context, leverage int) error
	NewOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	OpenOrders(ctx context.Context, instrument string) ([]OrderAck, error)
	Positions(ctx context.Context, instrument string) ([]Position, error)
	Balances(ctx context.Context) ([]Balance, error)
}
