package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"quantengine/internal/money"
)

// Manager wraps a Store with the load/save semantics the engine
// requires: atomic write-through of the whole document, and a fresh
// state at the configured starting equity (logged at WARN) whenever
// load fails or nothing was ever persisted.
type Manager struct {
	store   Store
	logger  *slog.Logger
}

// NewManager builds a Manager over store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Load fetches and decodes the persisted document, falling back to a
// fresh SystemState at startingEquity on any failure.
func (m *Manager) Load(ctx context.Context, startingEquity money.D) SystemState {
	raw, err := m.store.Get(ctx, StateKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("state load failed, starting fresh", "error", err)
		}
		return New(startingEquity)
	}

	var s SystemState
	if err := json.Unmarshal(raw, &s); err != nil {
		m.logger.Warn("state decode failed, starting fresh", "error", err)
		return New(startingEquity)
	}
	return s
}

// Save atomically writes s as the single persisted document with the
// package TTL.
func (m *Manager) Save(ctx context.Context, s SystemState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, StateKey, data, TTL)
}
