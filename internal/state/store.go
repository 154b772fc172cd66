package state

import (
	"context"
	"time"
)

// Store is a single-key KV abstraction the state document is persisted
// through. Concrete adapters: Redis (production) and a file-backed
// store (dry-run / local development, no external dependency required).
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by Get when key has never been set or has
// expired.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "state: key not found" }
