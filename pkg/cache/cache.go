// Package cache defines the TTL cache abstraction fronting expensive
// cross-system enrichment reads. The interface is injected into the engine
// so the backing store (in-process map vs. shared Redis) can be swapped
// without touching core logic. Consistency guarantee is deliberately weak:
// entries are eventually re-fetched after expiry, nothing more.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a string-keyed TTL cache. Values are opaque byte slices;
// callers own serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
