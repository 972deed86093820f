// Package cache defines the key/value store consumed by the idempotency
// guard and the read-through entity cache.
//
// The store is a shared, network-accessible Redis; it may be down at any
// moment. Every call site treats it as best-effort: errors are returned so
// callers can log them, but the expected pattern everywhere is to fail open
// and proceed as if the cache were empty. Nothing in the request path may
// hard-depend on the cache being reachable.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent (or expired).
// Callers distinguish a miss from an unreachable store via errors.Is.
var ErrMiss = errors.New("cache miss")

// Store is the narrow key/value surface the core components consume.
//
// Implementations must be safe for concurrent use and must bound every
// operation with a short timeout so callers can fail open instead of
// blocking the request pipeline.
type Store interface {
	// Get returns the raw value for key, or ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes a single key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
	// DelPattern removes every key matching the glob pattern (e.g. "posts:*").
	DelPattern(ctx context.Context, pattern string) error
}
