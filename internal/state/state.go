// Package state defines SystemState, the single logical document the
// engine persists after every fill, close, status transition, or
// adaptive-parameter change, and the Store abstraction it is persisted
// through. Field set and save/load shape are grounded on
// original_source/core/state/state_persistence.py's StateManager,
// generalized from a Redis-only client into a small interface so a
// file-backed adapter can stand in for local/dry-run runs.
package state

import (
	"encoding/json"
	"time"

	"quantengine/internal/market"
	"quantengine/internal/money"
)

// Status is the orchestrator's operating mode.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusDegraded Status = "DEGRADED"
	StatusSafeMode Status = "SAFE_MODE"
	StatusHalted   Status = "HALTED"
)

// StateKey is the single logical document key every adapter persists
// under (original_source used "autobot:system_state").
const StateKey = "quantengine:system_state"

// TTL is the persisted document's time-to-live. Longer is acceptable;
// 24h is the documented default.
const TTL = 24 * time.Hour

// PositionRecord is one open position as tracked in persisted state.
type PositionRecord struct {
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Quantity   money.D `json:"quantity"`
	EntryPrice money.D `json:"entry_price"`
	StopPrice  money.D `json:"stop_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// SystemState is the engine's single persisted document.
type SystemState struct {
	Status              Status                    `json:"status"`
	Equity              money.D                   `json:"equity"`
	StartingEquity      money.D                   `json:"starting_equity"`
	CurrentDrawdownPct  float64                   `json:"current_drawdown_pct"`
	DailyPnLPct         float64                   `json:"daily_pnl_pct"`
	OpenPositions       map[string]PositionRecord `json:"open_positions"`
	CurrentRegime       map[string]market.Regime  `json:"current_regime"`
	StrategyWeights     map[string]float64        `json:"strategy_weights"`
	ConsecutiveFailures int                       `json:"consecutive_failures"`
	UpdatedAt           time.Time                 `json:"updated_at"`

	// Extra tolerates fields written by a newer version of this
	// document that this build does not recognize, so a rolling
	// deploy never fails to load state.
	Extra map[string]json.RawMessage `json:"-"`
}

// New builds a fresh SystemState with the given starting equity, used
// whenever a Store has nothing persisted or fails to load; callers are
// expected to log the fallback at WARN.
func New(startingEquity money.D) SystemState {
	now := time.Now().UTC()
	return SystemState{
		Status:          StatusRunning,
		Equity:          startingEquity,
		StartingEquity:  startingEquity,
		OpenPositions:   make(map[string]PositionRecord),
		CurrentRegime:   make(map[string]market.Regime),
		StrategyWeights: make(map[string]float64),
		UpdatedAt:       now,
	}
}

// MarshalJSON preserves enum identity and instants as ISO-8601 UTC (the
// stdlib time.Time/json.Marshal default already emits RFC3339, which is
// ISO-8601 compliant) while folding Extra's unknown fields back in.
func (s SystemState) MarshalJSON() ([]byte, error) {
	type alias SystemState
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures any field this build does not recognize into
// Extra instead of discarding it, so a downgrade or partial rollout
// round-trips unknown data.
func (s *SystemState) UnmarshalJSON(data []byte) error {
	type alias SystemState
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = SystemState(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"status": true, "equity": true, "starting_equity": true,
		"current_drawdown_pct": true, "daily_pnl_pct": true,
		"open_positions": true, "current_regime": true,
		"strategy_weights": true, "consecutive_failures": true,
		"updated_at": true,
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}
