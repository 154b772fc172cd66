// Command engine is the process entry point: it loads configuration,
// wires every internal component into an engine.Orchestrator, and runs
// an ingest.Manager sharded across the configured instrument list until
// an interrupt signal arrives. Startup/shutdown shape (context
// cancellation on SIGINT/SIGTERM, .env loading) is grounded on the
// teacher's root main.go; the component wiring itself is new, since the
// teacher wires a single Backpack client straight into a TradingSystem
// rather than composing the fuller feature/regime/rule/veto/size
// pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantengine/internal/barbuffer"
	"quantengine/internal/config"
	"quantengine/internal/engine"
	"quantengine/internal/ingest"
	"quantengine/internal/market"
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
	"quantengine/internal/venue/backpack"
	"quantengine/internal/venue/offline"
)

const wsURL = "wss://ws.backpack.exchange"
const barInterval = "1m"
const metricsAddr = ":9090"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	go serveMetrics(logger)

	store := newStore(cfg, logger)
	stateMgr := state.NewManager(store, logger)
	sys := stateMgr.Load(ctx, cfg.StartingEquity)

	adapter := newAdapter(cfg, logger)
	orderMgr := orders.New(adapter, cfg.IsDryRun())
	notifier := notify.NewSink(cfg.TelegramBotToken, cfg.TelegramChatID)
	if !cfg.TelegramNotificationsOn {
		notifier = notify.NewSink("", "")
	}

	ruleEngine := rules.NewEngine()
	ruleEngine.Activation = cfg.ActivationThreshold

	orch := engine.New(engine.Config{
		Buffers:  barbuffer.NewManager(),
		Validate: validator.New(),
		Regimes:  regime.New(),
		Rules:    ruleEngine,
		Veto: risk.New(risk.Config{
			MaxPositionSize:        cfg.MaxPositionSizeUSDT,
			MaxPositions:           cfg.MaxPositions,
			MaxCorrelationExposure: cfg.MaxPositionSizeUSDT.Mul(money.FromFloat(cfg.MaxCorrelationExposurePct / 100)),
			MaxDrawdownPct:         cfg.MaxDrawdownPct,
			DailyLossLimitPct:      cfg.DailyLossLimitPct,
		}),
		Sizer: sizing.New(sizing.Config{
			RiskPerTradePct:   cfg.RiskPerTradePct,
			StopATRMultiplier: cfg.StopLossATRMultiplier,
			MinNotional:       cfg.MinPositionNotional,
			MaxNotional:       cfg.MaxPositionNotional,
		}),
		Orders:                   orderMgr,
		StateMgr:                 stateMgr,
		Notifier:                 notifier,
		Adapter:                  adapter,
		Logger:                   logger,
		Instruments:              cfg.Instruments,
		StopATRMultiplier:        cfg.StopLossATRMultiplier,
		TakeProfitRewardMultiple: money.FromFloat(cfg.TakeProfitRewardMultiple),
		TrailingATRMultiplier:    money.FromFloat(cfg.TrailingStopATRMultiplier),
		MaxHoldBars:              cfg.MaxHoldBars,
	})

	var sysMu sync.Mutex

	sysMu.Lock()
	orch.Reconcile(ctx, cfg.Instruments, &sys)
	sysMu.Unlock()

	go monitorRiskLimits(ctx, orch, &sys, &sysMu, cfg, logger)

	runIngest(ctx, cfg, orch, &sys, &sysMu, logger)

	logger.Info("engine stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newStore(cfg config.Config, logger *slog.Logger) state.Store {
	if cfg.IsDryRun() {
		return state.NewFileStore("./quantengine_state.json")
	}
	store := state.NewRedisStore(state.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, falling back to file store", "error", err)
		return state.NewFileStore("./quantengine_state.json")
	}
	return store
}

func newAdapter(cfg config.Config, logger *slog.Logger) venue.Adapter {
	if cfg.IsDryRun() && (cfg.VenueAPIKey == "" || cfg.VenuePrivateKey == "") {
		logger.Info("no venue credentials in DRY_RUN, using offline adapter")
		return offline.New()
	}
	client, err := backpack.New(cfg.VenueAPIKey, cfg.VenuePrivateKey)
	if err != nil {
		logger.Error("failed to build venue client", "error", err)
		os.Exit(1)
	}
	return client
}

// runIngest and monitorRiskLimits both mutate the shared SystemState
// through the orchestrator from separate goroutines (the websocket read
// loop and the periodic risk check); sysMu serializes every touch of it
// the way a single-threaded event loop would. The ingest manager shards
// cfg.Instruments across as many *ingest.Connection objects as the
// per-connection subscription cap requires; a reconnect exhaustion
// report from any shard escalates the whole engine to SAFE_MODE.
func runIngest(ctx context.Context, cfg config.Config, orch *engine.Orchestrator, sys *state.SystemState, sysMu *sync.Mutex, logger *slog.Logger) {
	mgr := ingest.NewManager(wsURL, cfg.Instruments, barInterval, logger)
	mgr.OnKline(func(bar market.Bar) {
		sysMu.Lock()
		defer sysMu.Unlock()
		orch.OnBarClose(ctx, bar, sys, sys.Equity)
	})
	mgr.OnError(func(err error) {
		if errors.Is(err, ingest.ErrReconnectExhausted) {
			orch.OnIngestFailure(err.Error())
			return
		}
		logger.Warn("ingest error", "error", err)
	})
	go reportIngestLatency(ctx, mgr, logger)
	mgr.Run(ctx)
}

// reportIngestLatency periodically logs the ingest LatencyMetrics
// distribution: avg/p95/p99/max over a rolling window of at least
// 1000 samples, published on demand.
func reportIngestLatency(ctx context.Context, mgr *ingest.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := mgr.Latency()
			if m.SampleCount == 0 {
				continue
			}
			logger.Info("ingest latency", "avg", m.Avg, "p95", m.P95, "p99", m.P99, "max", m.Max, "samples", m.SampleCount)
		}
	}
}

func monitorRiskLimits(ctx context.Context, orch *engine.Orchestrator, sys *state.SystemState, sysMu *sync.Mutex, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sysMu.Lock()
			orch.CheckRiskLimits(ctx, sys, cfg.MaxDrawdownPct, cfg.DailyLossLimitPct)
			sysMu.Unlock()
		}
	}
}

func serveMetrics(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
