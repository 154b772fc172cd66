// Package engine implements the event orchestrator: the per-instrument
// bar-close pipeline, the RUNNING/DEGRADED/SAFE_MODE/HALTED status
// machine, and the venue-call retry/backoff policy. Grounded on the
// teacher's src/trading/trading_system.go run-loop shape (one pipeline
// invoked per accepted market event, local order bookkeeping updated
// in lockstep) generalized to the fuller feature/regime/rule/veto/size
// pipeline and multi-instrument throttling this engine requires.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quantengine/internal/barbuffer"
	"quantengine/internal/errs"
	"quantengine/internal/indicators"
	"quantengine/internal/market"
	"quantengine/internal/metrics"
	"quantengine/internal/money"
	"quantengine/internal/notify"
	"quantengine/internal/orders"
	"quantengine/internal/regime"
	"quantengine/internal/risk"
	"quantengine/internal/rules"
	"quantengine/internal/sizing"
	"quantengine/internal/state"
	"quantengine/internal/validator"
	"quantengine/internal/venue"
)

// throttleWindow is the minimum spacing between two accepted decisions
// for the same instrument, guarding against replayed or duplicate bars.
const throttleWindow = 1 * time.Second

// decisionBudget is the overall time budget for one bar-close
// decision; exceeding it aborts with no partial submission.
const decisionBudget = 1 * time.Second

// venueCallTimeout bounds every individual venue request.
const venueCallTimeout = 10 * time.Second

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

// feedLossThreshold is how long an instrument may go without a fresh
// bar before its feed counts as lost for degradation purposes.
const feedLossThreshold = 30 * time.Second

// degradationClearWindow is how long every degradation predicate must
// stay clear before DEGRADED reverts to RUNNING.
const degradationClearWindow = 1 * time.Minute

// latencySampleCap bounds the rolling window used to estimate p95
// decision latency and its baseline.
const latencySampleCap = 20

// defaultStopATRMultiplier is used when Config.StopATRMultiplier is
// the zero value.
var defaultStopATRMultiplier = money.FromFloat(2.0)

// defaultTakeProfitRewardMultiple and defaultTrailingATRMultiplier back
// Config.TakeProfitRewardMultiple / Config.TrailingATRMultiplier when
// left at the zero value.
var defaultTakeProfitRewardMultiple = money.FromFloat(1.5)
var defaultTrailingATRMultiplier = money.FromFloat(2.0)

// defaultMaxHoldBars backs Config.MaxHoldBars when left at zero.
const defaultMaxHoldBars = 12

// Orchestrator wires every pipeline stage together and owns the
// process-wide status machine.
type Orchestrator struct {
	buffers    *barbuffer.Manager
	validate   *validator.Validator
	regimes    *regime.Classifier
	ruleEngine *rules.Engine
	veto       *risk.Chain
	sizer      *sizing.Sizer
	orderMgr   *orders.Manager
	stateMgr   *state.Manager
	notifier   *notify.Sink
	adapter    venue.Adapter
	logger     *slog.Logger

	filters                  map[string]venue.Filters
	stopATRMultiplier        money.D
	takeProfitRewardMultiple money.D
	trailingATRMultiplier    money.D
	maxHoldBars              int
	instruments              []string

	mu                  sync.Mutex
	status              state.Status
	lastDecisionAt      map[string]time.Time
	consecutiveFailures int

	lastFeedAt          map[string]time.Time
	feedLossAlerted     map[string]bool
	latencySamples      []time.Duration
	slippageBreached    bool
	slippageBreachedAt  time.Time
	degradedClearSince  time.Time
}

// Config bundles the collaborators an Orchestrator needs at construction.
type Config struct {
	Buffers           *barbuffer.Manager
	Validate          *validator.Validator
	Regimes           *regime.Classifier
	Rules             *rules.Engine
	Veto              *risk.Chain
	Sizer             *sizing.Sizer
	Orders            *orders.Manager
	StateMgr          *state.Manager
	Notifier          *notify.Sink
	Adapter           venue.Adapter
	Logger                   *slog.Logger
	Instruments              []string
	StopATRMultiplier        money.D
	TakeProfitRewardMultiple money.D
	TrailingATRMultiplier    money.D
	MaxHoldBars              int
}

// New builds an Orchestrator in the initial RUNNING status.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopMult := cfg.StopATRMultiplier
	if stopMult.IsZero() {
		stopMult = defaultStopATRMultiplier
	}
	rewardMult := cfg.TakeProfitRewardMultiple
	if rewardMult.IsZero() {
		rewardMult = defaultTakeProfitRewardMultiple
	}
	trailingMult := cfg.TrailingATRMultiplier
	if trailingMult.IsZero() {
		trailingMult = defaultTrailingATRMultiplier
	}
	maxHoldBars := cfg.MaxHoldBars
	if maxHoldBars == 0 {
		maxHoldBars = defaultMaxHoldBars
	}
	return &Orchestrator{
		buffers:                  cfg.Buffers,
		validate:                 cfg.Validate,
		regimes:                  cfg.Regimes,
		ruleEngine:               cfg.Rules,
		veto:                     cfg.Veto,
		sizer:                    cfg.Sizer,
		orderMgr:                 cfg.Orders,
		stateMgr:                 cfg.StateMgr,
		notifier:                 cfg.Notifier,
		adapter:                  cfg.Adapter,
		logger:                   logger,
		filters:                  make(map[string]venue.Filters),
		stopATRMultiplier:        stopMult,
		takeProfitRewardMultiple: rewardMult,
		trailingATRMultiplier:    trailingMult,
		maxHoldBars:              maxHoldBars,
		instruments:              cfg.Instruments,
		status:                   state.StatusRunning,
		lastDecisionAt:           make(map[string]time.Time),
		lastFeedAt:               make(map[string]time.Time),
		feedLossAlerted:          make(map[string]bool),
	}
}

// Status returns the current orchestrator status.
func (o *Orchestrator) Status() state.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s state.Status) {
	o.mu.Lock()
	changed := o.status != s
	o.status = s
	o.mu.Unlock()
	if changed {
		o.logger.Warn("orchestrator status transition", "status", s)
	}
	metrics.OrchestratorStatus.Set(metrics.StatusValue(string(s)))
}

// OnBarClose is the entry point ingest calls for every closed bar. It
// enforces the per-instrument throttle, then runs the full pipeline.
func (o *Orchestrator) OnBarClose(ctx context.Context, raw market.Bar, sys *state.SystemState, equity money.D) {
	o.mu.Lock()
	o.lastFeedAt[raw.Instrument] = time.Now()
	o.feedLossAlerted[raw.Instrument] = false
	o.mu.Unlock()

	if o.Status() == state.StatusHalted {
		return
	}

	result := o.validate.Check(raw)
	if !result.Accepted {
		o.logger.Debug("bar rejected", "instrument", raw.Instrument, "reason", result.Reason)
		return
	}

	o.mu.Lock()
	last, seen := o.lastDecisionAt[raw.Instrument]
	if seen && time.Since(last) < throttleWindow {
		o.mu.Unlock()
		return
	}
	o.lastDecisionAt[raw.Instrument] = time.Now()
	o.mu.Unlock()

	decisionCtx, cancel := context.WithTimeout(ctx, decisionBudget)
	defer cancel()

	start := time.Now()
	err := o.runPipeline(decisionCtx, raw, sys, equity)
	o.recordLatency(time.Since(start))
	if err != nil {
		o.logger.Warn("decision aborted", "instrument", raw.Instrument, "error", err)
	}

	o.checkDegradation()
}

func (o *Orchestrator) runPipeline(ctx context.Context, bar market.Bar, sys *state.SystemState, equity money.D) error {
	ring := o.buffers.Get(bar.Instrument)
	ring.Append(bar)
	if !ring.Ready() {
		return errs.New(errs.KindInsufficientHistory, fmt.Errorf("only %d bars for %s", ring.Len(), bar.Instrument))
	}

	fm := indicators.Compute(bar.Instrument, ring.Snapshot())
	rg := o.regimes.Classify(bar.Instrument, fm)
	sys.CurrentRegime[bar.Instrument] = rg

	if positionOpen(sys, bar.Instrument) {
		if o.orderMgr.CheckExit(bar.Instrument, money.FromFloat(bar.Close)) {
			metrics.DecisionsTotal.WithLabelValues(bar.Instrument, string(market.ActionClose)).Inc()
			return o.handleClose(ctx, bar, sys)
		}
	}

	atr, _ := fm.Get(market.FeatureATR14)
	sig := o.ruleEngine.Evaluate(bar.Instrument, fm, rg, bar.Close, atr)

	metrics.DecisionsTotal.WithLabelValues(bar.Instrument, string(sig.Action)).Inc()

	switch sig.Action {
	case market.ActionProposeLong, market.ActionProposeShort:
		if positionOpen(sys, bar.Instrument) {
			return nil
		}
		return o.handleProposal(ctx, bar, sig, sys, equity)
	default:
		return nil
	}
}

func (o *Orchestrator) handleProposal(ctx context.Context, bar market.Bar, sig market.Signal, sys *state.SystemState, equity money.D) error {
	filters, err := o.exchangeFilters(ctx, bar.Instrument)
	if err != nil {
		return errs.New(errs.KindVenueTransient, err)
	}

	price := money.FromFloat(bar.Close)
	atr := money.FromFloat(sig.ATR)
	sizeResult := o.sizer.Calculate(equity, price, atr, filters.LotStep, filters.TickSize)
	if !sizeResult.Valid {
		o.logger.Debug("sizing rejected", "instrument", bar.Instrument, "reason", sizeResult.Reason)
		return nil
	}

	vetoResult := o.veto.Evaluate(bar.Instrument, sig.Action, risk.PositionState{
		OpenPositions:      o.orderMgr.OpenPositions(),
		CurrentDrawdownPct: sys.CurrentDrawdownPct,
		DailyPnLPct:        sys.DailyPnLPct,
	}, sizeResult.Quantity, price)

	if !vetoResult.Approved {
		metrics.SignalsVetoedTotal.WithLabelValues(bar.Instrument, vetoResult.VetoStage).Inc()
		_ = o.notifier.Send(notify.PriorityWarning, "", fmt.Sprintf("%s vetoed at %s: %s", bar.Instrument, vetoResult.VetoStage, vetoResult.VetoReason))
		return nil
	}

	order, err := callVenueRetry(o, ctx, func(c context.Context) (*orders.LocalOrder, error) {
		return o.orderMgr.Open(c, bar.Instrument, sig.Action, vetoResult.AdjustedQuantity, vetoResult.AdjustedPrice, atr,
			o.stopATRMultiplier, o.takeProfitRewardMultiple, o.trailingATRMultiplier, o.maxHoldBars)
	})
	if err != nil {
		return err
	}
	metrics.OrdersOpenedTotal.WithLabelValues(bar.Instrument, string(order.Side)).Inc()
	if ev, breached := orders.CheckSlippage(bar.Instrument, price, order.EntryPrice); breached {
		o.RecordSlippage(true)
		metrics.SlippageBreachesTotal.WithLabelValues(bar.Instrument).Inc()
		_ = o.notifier.Send(notify.PriorityWarning, "", fmt.Sprintf("%s entry slippage %.3f%%", ev.Instrument, ev.DeviationPct))
	}

	sys.OpenPositions[bar.Instrument] = state.PositionRecord{
		Instrument: order.Instrument,
		Side:       string(order.Side),
		Quantity:   order.Quantity,
		EntryPrice: order.EntryPrice,
		StopPrice:  order.StopPrice,
		OpenedAt:   order.EntryTime,
	}
	return o.persist(ctx, sys)
}

func (o *Orchestrator) handleClose(ctx context.Context, bar market.Bar, sys *state.SystemState) error {
	if !positionOpen(sys, bar.Instrument) {
		return nil
	}
	quoted := money.FromFloat(bar.Close)
	order, err := callVenueRetry(o, ctx, func(c context.Context) (*orders.LocalOrder, error) {
		return o.orderMgr.Close(c, bar.Instrument, quoted)
	})
	if err != nil {
		return err
	}
	metrics.OrdersClosedTotal.WithLabelValues(bar.Instrument).Inc()
	if ev, breached := orders.CheckSlippage(bar.Instrument, quoted, order.ExitPrice); breached {
		o.RecordSlippage(true)
		metrics.SlippageBreachesTotal.WithLabelValues(bar.Instrument).Inc()
		_ = o.notifier.Send(notify.PriorityWarning, "", fmt.Sprintf("%s exit slippage %.3f%%", ev.Instrument, ev.DeviationPct))
	}
	delete(sys.OpenPositions, bar.Instrument)
	o.logger.Info("position closed", "instrument", bar.Instrument, "pnl", order.PnL.String())
	return o.persist(ctx, sys)
}

func (o *Orchestrator) exchangeFilters(ctx context.Context, instrument string) (venue.Filters, error) {
	o.mu.Lock()
	f, ok := o.filters[instrument]
	o.mu.Unlock()
	if ok {
		return f, nil
	}

	f, err := callVenueRetry(o, ctx, func(c context.Context) (venue.Filters, error) {
		return o.adapter.ExchangeInfo(c, instrument)
	})
	if err != nil {
		return venue.Filters{}, err
	}

	o.mu.Lock()
	o.filters[instrument] = f
	o.mu.Unlock()
	return f, nil
}

// positionOpen reports whether instrument already has a tracked
// position, the boundary runPipeline uses to keep at most one open
// position per instrument: a fresh entry signal must never reach
// handleProposal while a prior position on the same instrument is
// still open, even if CheckExit just declined to close it.
func positionOpen(sys *state.SystemState, instrument string) bool {
	_, open := sys.OpenPositions[instrument]
	return open
}

// callVenueRetry runs fn against the adapter with a per-call timeout,
// retrying on any error per the (1,2,4,8,16s) backoff schedule
// before counting the whole operation as one consecutive failure.
func callVenueRetry[T any](o *Orchestrator, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, delay := range append([]time.Duration{0}, backoffSchedule...) {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, venueCallTimeout)
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			o.onVenueSuccess()
			return v, nil
		}
		lastErr = err
	}
	o.onVenueFailure()
	return zero, errs.New(errs.KindVenueTransient, lastErr)
}

func (o *Orchestrator) onVenueSuccess() {
	o.mu.Lock()
	o.consecutiveFailures = 0
	o.mu.Unlock()
	metrics.ConsecutiveVenueFailures.Set(0)
}

func (o *Orchestrator) onVenueFailure() {
	o.mu.Lock()
	o.consecutiveFailures++
	n := o.consecutiveFailures
	o.mu.Unlock()
	metrics.VenueCallFailuresTotal.Inc()
	metrics.ConsecutiveVenueFailures.Set(float64(n))
	if n >= 5 {
		o.setStatus(state.StatusSafeMode)
		_ = o.notifier.Send(notify.PriorityCritical, "venue_failures", "5 consecutive venue API failures, entering SAFE_MODE")
	}
}

// OnIngestFailure escalates straight to SAFE_MODE on a reconnect
// exhaustion report from the ingest layer, raised after 10 consecutive
// failed reconnect attempts. Unlike venue call
// failures, a single report is enough — there is no partial-credit
// count to accumulate, since the ingest connection itself already
// retried maxAttempts times before reporting.
func (o *Orchestrator) OnIngestFailure(reason string) {
	o.setStatus(state.StatusSafeMode)
	_ = o.notifier.Send(notify.PriorityCritical, "ingest_failure", reason)
}

// RecordSlippage records the outcome of an orders.CheckSlippage call so
// checkDegradation can factor it into the DEGRADED predicate. A breach
// stays live for degradationClearWindow before it stops counting.
func (o *Orchestrator) RecordSlippage(breached bool) {
	if !breached {
		return
	}
	o.mu.Lock()
	o.slippageBreached = true
	o.slippageBreachedAt = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) recordLatency(d time.Duration) {
	metrics.DecisionLatencySeconds.Observe(d.Seconds())
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latencySamples = append(o.latencySamples, d)
	if len(o.latencySamples) > latencySampleCap {
		o.latencySamples = o.latencySamples[len(o.latencySamples)-latencySampleCap:]
	}
}

// latencyP95Baseline returns the p95 over the retained samples and,
// as the "baseline" to compare against, the mean of every retained
// sample except the largest. Returns ok=false until at least 5 samples
// have accumulated.
func (o *Orchestrator) latencyP95Baseline() (p95, baseline time.Duration, ok bool) {
	o.mu.Lock()
	samples := append([]time.Duration(nil), o.latencySamples...)
	o.mu.Unlock()
	if len(samples) < 5 {
		return 0, 0, false
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p95 = sorted[idx]

	var sum time.Duration
	for _, s := range sorted[:len(sorted)-1] {
		sum += s
	}
	baseline = sum / time.Duration(len(sorted)-1)
	return p95, baseline, true
}

// checkDegradation evaluates the status predicates:
// elevated decision latency, a live slippage breach, or a tracked
// instrument whose feed has gone quiet escalate RUNNING to DEGRADED;
// DEGRADED only reverts to RUNNING once every predicate has stayed
// clear for a full degradationClearWindow. A feed gap that reaches
// feedLossThreshold is a harder failure than DEGRADED and escalates
// straight to SAFE_MODE with a CRITICAL alert, latched per instrument
// so it fires once per outage rather than on every bar-close.
func (o *Orchestrator) checkDegradation() {
	switch o.Status() {
	case state.StatusHalted, state.StatusSafeMode:
		return
	}

	now := time.Now()
	latencyBad := false
	if p95, baseline, ok := o.latencyP95Baseline(); ok && baseline > 0 {
		latencyBad = p95 > 2*baseline
	}

	o.mu.Lock()
	slippageBad := o.slippageBreached && now.Sub(o.slippageBreachedAt) < degradationClearWindow
	if !slippageBad {
		o.slippageBreached = false
	}
	feedBad := false
	var lostFeeds []string
	for _, instrument := range o.instruments {
		last, seen := o.lastFeedAt[instrument]
		if !seen {
			continue
		}
		gap := now.Sub(last)
		switch {
		case gap >= feedLossThreshold:
			if !o.feedLossAlerted[instrument] {
				o.feedLossAlerted[instrument] = true
				lostFeeds = append(lostFeeds, instrument)
			}
		case gap > throttleWindow:
			feedBad = true
		}
	}
	o.mu.Unlock()

	for _, instrument := range lostFeeds {
		o.setStatus(state.StatusSafeMode)
		_ = o.notifier.Send(notify.PriorityCritical, "feed_loss_"+instrument, fmt.Sprintf("%s feed loss exceeded %s, entering SAFE_MODE", instrument, feedLossThreshold))
	}
	if len(lostFeeds) > 0 {
		return
	}

	degraded := latencyBad || slippageBad || feedBad

	if degraded {
		o.mu.Lock()
		o.degradedClearSince = time.Time{}
		o.mu.Unlock()
		if o.Status() == state.StatusRunning {
			o.setStatus(state.StatusDegraded)
		}
		return
	}

	if o.Status() != state.StatusDegraded {
		return
	}

	o.mu.Lock()
	if o.degradedClearSince.IsZero() {
		o.degradedClearSince = now
	}
	cleared := now.Sub(o.degradedClearSince) >= degradationClearWindow
	o.mu.Unlock()

	if cleared {
		o.setStatus(state.StatusRunning)
	}
}

func (o *Orchestrator) persist(ctx context.Context, sys *state.SystemState) error {
	sys.UpdatedAt = time.Now().UTC()
	if err := o.stateMgr.Save(ctx, *sys); err != nil {
		return errs.New(errs.KindPersistenceFailure, err)
	}
	return nil
}

// CheckRiskLimits transitions to HALTED and closes every open position
// when drawdown or the daily loss limit has been breached, an
// unconditional any-state transition regardless of the current status.
func (o *Orchestrator) CheckRiskLimits(ctx context.Context, sys *state.SystemState, maxDrawdownPct, dailyLossLimitPct float64) {
	if sys.CurrentDrawdownPct < maxDrawdownPct && sys.DailyPnLPct > -dailyLossLimitPct {
		return
	}
	if o.Status() == state.StatusHalted {
		return
	}
	o.setStatus(state.StatusHalted)
	_ = o.notifier.Send(notify.PriorityCritical, "halted", "risk limit breached, halting and closing all positions")
	for instrument := range sys.OpenPositions {
		if _, err := o.orderMgr.Close(ctx, instrument, money.Zero); err != nil {
			o.logger.Error("failed to close position during halt", "instrument", instrument, "error", err)
			continue
		}
		delete(sys.OpenPositions, instrument)
	}
	_ = o.persist(ctx, sys)
}

// Reconcile fetches venue-reported positions for every instrument
// currently tracked and merges them into sys. Every mismatch between
// the local and venue views raises a CRITICAL alert, whether or not it
// could be resolved by dropping the local order or adopting the
// venue's reported quantity; a mismatch that could not be resolved
// that way additionally escalates to SAFE_MODE.
func (o *Orchestrator) Reconcile(ctx context.Context, instruments []string, sys *state.SystemState) {
	for _, instrument := range instruments {
		mismatch, resolved, err := o.orderMgr.Reconcile(ctx, instrument)
		if err != nil {
			o.logger.Warn("reconciliation failed", "instrument", instrument, "error", err)
			continue
		}
		if !mismatch {
			continue
		}
		_ = o.notifier.Send(notify.PriorityCritical, "reconcile_"+instrument, fmt.Sprintf("local/venue position mismatch reconciled for %s", instrument))
		if !resolved {
			o.setStatus(state.StatusSafeMode)
		}
	}
}
