// Command backfill is an operator diagnostic that loads and prints the
// persisted engine state, adapted from the teacher's
// cmd/test_balance/main.go one-shot "load, print, exit" shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"quantengine/internal/config"
	"quantengine/internal/state"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (defaults to process cwd lookup)")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx := context.Background()

	var store state.Store
	if cfg.IsDryRun() {
		store = state.NewFileStore("./quantengine_state.json")
	} else {
		store = state.NewRedisStore(state.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	mgr := state.NewManager(store, nil)
	sys := mgr.Load(ctx, cfg.StartingEquity)

	log.Printf("=== quantengine persisted state ===")
	log.Printf("status: %s", sys.Status)
	log.Printf("equity: %s (starting %s)", sys.Equity.String(), sys.StartingEquity.String())
	log.Printf("drawdown: %.2f%%  daily pnl: %.2f%%", sys.CurrentDrawdownPct, sys.DailyPnLPct)
	log.Printf("consecutive venue failures: %d", sys.ConsecutiveFailures)
	log.Printf("updated at: %s", sys.UpdatedAt)

	if len(sys.OpenPositions) == 0 {
		log.Println("no open positions")
	} else {
		log.Printf("%d open position(s):", len(sys.OpenPositions))
		for instrument, pos := range sys.OpenPositions {
			log.Printf("  %s: side=%s qty=%s entry=%s stop=%s opened=%s",
				instrument, pos.Side, pos.Quantity.String(), pos.EntryPrice.String(), pos.StopPrice.String(), pos.OpenedAt)
		}
	}

	if len(sys.CurrentRegime) > 0 {
		log.Println("regimes:")
		for instrument, rg := range sys.CurrentRegime {
			log.Printf("  %s: directional=%s volatility=%s", instrument, rg.Directional, rg.Volatility)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sys); err != nil {
		fmt.Fprintf(os.Stderr, "encode state: %v\n", err)
		os.Exit(1)
	}
}
