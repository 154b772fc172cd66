// Package metrics exposes package-level Prometheus collectors for the
// engine's decision pipeline and venue calls, registered the way the
// pack's guards.SafeExchange registers its breaker/order counters: a
// var block of collectors plus an init() MustRegister call, incremented
// inline from the code paths that own the event.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_decisions_total",
		Help: "Bar-close decisions processed, by action taken",
	}, []string{"instrument", "action"})

	SignalsVetoedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_signals_vetoed_total",
		Help: "Proposed entries rejected by the pre-trade veto chain, by stage",
	}, []string{"instrument", "stage"})

	OrdersOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_orders_opened_total",
		Help: "Entry orders successfully opened, by instrument and side",
	}, []string{"instrument", "side"})

	OrdersClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_orders_closed_total",
		Help: "Positions closed, by instrument",
	}, []string{"instrument"})

	VenueCallFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quantengine_venue_call_failures_total",
		Help: "Venue calls that exhausted the retry/backoff schedule",
	})

	SlippageBreachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_slippage_breaches_total",
		Help: "Fills whose deviation from the quoted price exceeded the slippage threshold",
	}, []string{"instrument"})

	DecisionLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantengine_decision_latency_seconds",
		Help:    "Wall-clock time spent in one bar-close decision pipeline run",
		Buckets: prometheus.DefBuckets,
	})

	OrchestratorStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quantengine_orchestrator_status",
		Help: "0=RUNNING, 1=DEGRADED, 2=SAFE_MODE, 3=HALTED",
	})

	ConsecutiveVenueFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quantengine_consecutive_venue_failures",
		Help: "Current streak of consecutive failed venue calls",
	})

	IngestMessageLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantengine_ingest_message_latency_seconds",
		Help:    "Time spent processing one received market data message",
		Buckets: prometheus.DefBuckets,
	})

	IngestReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quantengine_ingest_reconnects_total",
		Help: "Market data connection drops that triggered a reconnect attempt",
	})

	IngestReconnectExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quantengine_ingest_reconnect_exhausted_total",
		Help: "Times a connection shard exhausted its reconnect attempt budget",
	})

	IngestSinkDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quantengine_ingest_sink_dropped_total",
		Help: "Events dropped from a full ingest sink queue, by sink",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		SignalsVetoedTotal,
		OrdersOpenedTotal,
		OrdersClosedTotal,
		VenueCallFailuresTotal,
		SlippageBreachesTotal,
		DecisionLatencySeconds,
		OrchestratorStatus,
		ConsecutiveVenueFailures,
		IngestMessageLatencySeconds,
		IngestReconnectsTotal,
		IngestReconnectExhaustedTotal,
		IngestSinkDroppedTotal,
	)
}

// StatusValue maps a status string to the gauge encoding documented on
// OrchestratorStatus.
func StatusValue(status string) float64 {
	switch status {
	case "RUNNING":
		return 0
	case "DEGRADED":
		return 1
	case "SAFE_MODE":
		return 2
	case "HALTED":
		return 3
	default:
		return -1
	}
}
