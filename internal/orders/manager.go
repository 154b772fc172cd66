// Package orders tracks local order/position state and drives venue
// submissions. LocalOrder's shape and the manager's open/close bookkeeping
// are adapted from the teacher's src/trading/order_manager.go LocalOrder
// and OrderManager, generalized from float64 fields to money.D and from
// a fixed long/short two-leg entry into an entry-plus-protective-stop
// pair.
package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantengine/internal/market"
	"quantengine/internal/money"
	"quantengine/internal/venue"
)

// Status is the lifecycle state of a local order.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusFilled   Status = "FILLED"
	StatusClosed   Status = "CLOSED"
	StatusCanceled Status = "CANCELED"
)

// MaxSlippagePct is the default fraction (0.001 = 0.1%) beyond which a
// realized fill triggers a warning rather than a trade reversal —
// the trade is never unwound on slippage alone.
const MaxSlippagePct = 0.001

// LocalOrder is one locally tracked position: its entry fill and the
// protective stop order riding alongside it, plus the exit-rule
// bookkeeping (take profit, trailing stop, max-hold timeout) that
// CheckExit uses to decide when a position should close on its own,
// independent of a fresh rule-engine signal.
type LocalOrder struct {
	ID          string
	Instrument  string
	Side        venue.Side
	EntryPrice  money.D
	Quantity    money.D
	StopPrice   money.D
	StopOrderID string
	Status      Status
	EntryTime   time.Time
	ExitPrice   money.D
	ExitTime    time.Time
	PnL         money.D

	TakeProfit        money.D
	TrailingStopPrice money.D
	TrailingEnabled   bool
	TrailingDistance  money.D
	MaxHoldBars       int
	BarsHeld          int
	HighestPrice      money.D
	LowestPrice       money.D
}

// SlippageEvent describes a fill that deviated from the requested
// price beyond MaxSlippagePct.
type SlippageEvent struct {
	Instrument   string
	Requested    money.D
	Realized     money.D
	DeviationPct float64
}

// Manager owns local order state and talks to a venue.Adapter to
// submit and reconcile orders. DryRun mode never calls the adapter for
// mutating operations; it synthesizes fills at the requested price.
type Manager struct {
	adapter venue.Adapter
	dryRun  bool

	orders           map[string]*LocalOrder
	openByInstrument map[string]string
}

// New builds a Manager. When dryRun is true, Open/Close never reach the
// venue and instead return synthetic fills.
func New(adapter venue.Adapter, dryRun bool) *Manager {
	return &Manager{
		adapter:          adapter,
		dryRun:           dryRun,
		orders:           make(map[string]*LocalOrder),
		openByInstrument: make(map[string]string),
	}
}

// Open submits a market entry for instrument sized at quantity, then a
// protective stop at entry ± ATR*stopATRMultiplier, and tracks the
// resulting LocalOrder. action must be PROPOSE_LONG or PROPOSE_SHORT.
// takeProfitRewardMultiple sets the take-profit distance as a multiple
// of the stop distance; trailingATRMultiplier sets how far the
// trailing stop trails price, in units of ATR, once it activates at
// half the take-profit distance; maxHoldBars is the bar-count timeout
// CheckExit enforces regardless of price.
func (m *Manager) Open(ctx context.Context, instrument string, action market.Action, quantity, price, atr, stopATRMultiplier, takeProfitRewardMultiple, trailingATRMultiplier money.D, maxHoldBars int) (*LocalOrder, error) {
	side := venue.SideBuy
	if action == market.ActionProposeShort {
		side = venue.SideSell
	}

	entryFill := price
	orderID := fmt.Sprintf("LOCAL_%d", time.Now().UnixNano())

	if !m.dryRun {
		ack, err := m.adapter.NewOrder(ctx, venue.OrderRequest{
			Instrument: instrument,
			Side:       side,
			Kind:       venue.KindMarket,
			Quantity:   quantity,
		})
		if err != nil {
			return nil, fmt.Errorf("submit entry order: %w", err)
		}
		orderID = ack.OrderID
		if ack.FillPrice.Sign() > 0 {
			entryFill = ack.FillPrice
		}
	}

	stopDistance := atr.Mul(stopATRMultiplier)
	takeProfitDistance := stopDistance.Mul(takeProfitRewardMultiple)
	var stopPrice, takeProfit money.D
	stopSide := venue.SideSell
	if side == venue.SideBuy {
		stopPrice = entryFill.Sub(stopDistance)
		takeProfit = entryFill.Add(takeProfitDistance)
	} else {
		stopSide = venue.SideBuy
		stopPrice = entryFill.Add(stopDistance)
		takeProfit = entryFill.Sub(takeProfitDistance)
	}

	order := &LocalOrder{
		ID:                orderID,
		Instrument:        instrument,
		Side:              side,
		EntryPrice:        entryFill,
		Quantity:          quantity,
		StopPrice:         stopPrice,
		Status:            StatusOpen,
		EntryTime:         time.Now(),
		TakeProfit:        takeProfit,
		TrailingStopPrice: stopPrice,
		TrailingDistance:  trailingATRMultiplier.Mul(atr),
		MaxHoldBars:       maxHoldBars,
		HighestPrice:      entryFill,
		LowestPrice:       entryFill,
	}

	if !m.dryRun {
		stopAck, err := m.adapter.NewOrder(ctx, venue.OrderRequest{
			Instrument: instrument,
			Side:       stopSide,
			Kind:       venue.KindStopMarket,
			Quantity:   quantity,
			Price:      stopPrice,
			ReduceOnly: true,
		})
		if err != nil {
			return order, fmt.Errorf("submit protective stop: %w", err)
		}
		order.StopOrderID = stopAck.OrderID
	}

	m.orders[order.ID] = order
	m.openByInstrument[instrument] = order.ID
	return order, nil
}

// Close closes the open order for instrument at exitPrice.
func (m *Manager) Close(ctx context.Context, instrument string, exitPrice money.D) (*LocalOrder, error) {
	orderID, ok := m.openByInstrument[instrument]
	if !ok {
		return nil, fmt.Errorf("no open order for %s", instrument)
	}
	order := m.orders[orderID]

	if !m.dryRun {
		side := venue.SideSell
		if order.Side == venue.SideSell {
			side = venue.SideBuy
		}
		if order.StopOrderID != "" {
			_ = m.adapter.CancelOrder(ctx, instrument, order.StopOrderID)
		}
		ack, err := m.adapter.NewOrder(ctx, venue.OrderRequest{
			Instrument: instrument,
			Side:       side,
			Kind:       venue.KindMarket,
			Quantity:   order.Quantity,
			ReduceOnly: true,
		})
		if err != nil {
			return nil, fmt.Errorf("submit close order: %w", err)
		}
		if ack.FillPrice.Sign() > 0 {
			exitPrice = ack.FillPrice
		}
	}

	order.ExitPrice = exitPrice
	order.ExitTime = time.Now()
	order.Status = StatusClosed
	order.PnL = m.pnl(order)

	delete(m.openByInstrument, instrument)
	return order, nil
}

// CheckExit updates instrument's open order with one bar of exit-rule
// bookkeeping (bars-held count, trailing-stop activation/ratchet
// against the new high/low) and reports whether the order should
// close on its own — hit its take profit, its regular or trailing
// stop, or its max-hold-bar timeout — without a fresh rule-engine
// signal. Grounded on the teacher's CheckStopLossTakeProfit: the
// trailing stop activates once price reaches half the distance to
// take profit, then only ever ratchets in the position's favor.
func (m *Manager) CheckExit(instrument string, currentPrice money.D) bool {
	order, ok := m.OpenOrder(instrument)
	if !ok {
		return false
	}

	order.BarsHeld++
	if currentPrice.GreaterThan(order.HighestPrice) {
		order.HighestPrice = currentPrice
	}
	if currentPrice.LessThan(order.LowestPrice) {
		order.LowestPrice = currentPrice
	}

	long := order.Side == venue.SideBuy
	tpDistance := order.TakeProfit.Sub(order.EntryPrice).Abs()
	profitDistance := currentPrice.Sub(order.EntryPrice)
	if !long {
		profitDistance = order.EntryPrice.Sub(currentPrice)
	}

	if !order.TrailingEnabled && tpDistance.Sign() > 0 && profitDistance.GreaterThanOrEqual(tpDistance.Div(money.FromInt(2))) {
		order.TrailingEnabled = true
		if long {
			order.TrailingStopPrice = currentPrice.Sub(order.TrailingDistance)
		} else {
			order.TrailingStopPrice = currentPrice.Add(order.TrailingDistance)
		}
	}

	if order.TrailingEnabled {
		if long {
			candidate := currentPrice.Sub(order.TrailingDistance)
			if candidate.GreaterThan(order.TrailingStopPrice) {
				order.TrailingStopPrice = candidate
			}
		} else {
			candidate := currentPrice.Add(order.TrailingDistance)
			if candidate.LessThan(order.TrailingStopPrice) {
				order.TrailingStopPrice = candidate
			}
		}
	}

	switch {
	case long && currentPrice.GreaterThanOrEqual(order.TakeProfit):
		return true
	case !long && currentPrice.LessThanOrEqual(order.TakeProfit):
		return true
	case order.TrailingEnabled && long && currentPrice.LessThanOrEqual(order.TrailingStopPrice):
		return true
	case order.TrailingEnabled && !long && currentPrice.GreaterThanOrEqual(order.TrailingStopPrice):
		return true
	case long && currentPrice.LessThanOrEqual(order.StopPrice):
		return true
	case !long && currentPrice.GreaterThanOrEqual(order.StopPrice):
		return true
	case order.MaxHoldBars > 0 && order.BarsHeld >= order.MaxHoldBars:
		return true
	}
	return false
}

func (m *Manager) pnl(o *LocalOrder) money.D {
	diff := o.ExitPrice.Sub(o.EntryPrice)
	if o.Side == venue.SideSell {
		diff = o.EntryPrice.Sub(o.ExitPrice)
	}
	return diff.Mul(o.Quantity)
}

// CheckSlippage compares a realized fill against the quote mid it was
// requested at, reporting a SlippageEvent (never reversing the trade)
// when the deviation exceeds MaxSlippagePct.
func CheckSlippage(instrument string, quoteMid, realized money.D) (SlippageEvent, bool) {
	if quoteMid.Sign() == 0 {
		return SlippageEvent{}, false
	}
	dev := realized.Sub(quoteMid).Div(quoteMid).Abs()
	devFloat, _ := dev.Float64()
	if devFloat <= MaxSlippagePct || math.IsNaN(devFloat) {
		return SlippageEvent{}, false
	}
	return SlippageEvent{Instrument: instrument, Requested: quoteMid, Realized: realized, DeviationPct: devFloat * 100}, true
}

// OpenOrder returns the currently open order for instrument, if any.
func (m *Manager) OpenOrder(instrument string) (*LocalOrder, bool) {
	id, ok := m.openByInstrument[instrument]
	if !ok {
		return nil, false
	}
	o, ok := m.orders[id]
	return o, ok
}

// OpenPositions returns the instruments with a locally tracked open order.
func (m *Manager) OpenPositions() map[string]struct{} {
	out := make(map[string]struct{}, len(m.openByInstrument))
	for instrument := range m.openByInstrument {
		out[instrument] = struct{}{}
	}
	return out
}

// Reconcile fetches the venue's view of positions for instrument and
// compares it against the locally tracked order. mismatch
// reports whether the local and venue views disagreed at all (the
// caller alerts on every mismatch, resolved or not); resolved reports
// whether the disagreement could be settled by dropping the local
// order or adopting the venue's reported quantity. resolved is false
// only when neither of those repairs applies, signalling the caller
// should escalate.
func (m *Manager) Reconcile(ctx context.Context, instrument string) (mismatch, resolved bool, err error) {
	positions, err := m.adapter.Positions(ctx, instrument)
	if err != nil {
		return false, false, fmt.Errorf("fetch venue positions: %w", err)
	}

	local, hasLocal := m.OpenOrder(instrument)

	var venuePos *venue.Position
	for i := range positions {
		if positions[i].Instrument == instrument && positions[i].Quantity.Sign() != 0 {
			venuePos = &positions[i]
			break
		}
	}

	switch {
	case !hasLocal && venuePos == nil:
		return false, true, nil
	case hasLocal && venuePos == nil:
		delete(m.openByInstrument, instrument)
		local.Status = StatusCanceled
		return true, true, nil
	case !hasLocal && venuePos != nil:
		side := venue.SideBuy
		if venuePos.Quantity.Sign() < 0 {
			side = venue.SideSell
		}
		adopted := &LocalOrder{
			ID:         fmt.Sprintf("VENUE_%s_%d", instrument, time.Now().UnixNano()),
			Instrument: instrument,
			Side:       side,
			EntryPrice: venuePos.EntryPrice,
			Quantity:   venuePos.Quantity.Abs(),
			Status:     StatusOpen,
			EntryTime:  time.Now(),
		}
		m.orders[adopted.ID] = adopted
		m.openByInstrument[instrument] = adopted.ID
		return true, true, nil
	default:
		if !local.Quantity.Equal(venuePos.Quantity.Abs()) {
			local.Quantity = venuePos.Quantity.Abs()
			local.EntryPrice = venuePos.EntryPrice
			return true, true, nil
		}
		return false, true, nil
	}
}
