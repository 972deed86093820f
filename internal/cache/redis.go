// Package cache defines the key/value store consumed by the idempotency
// guard and the read-through entity cache. This file provides the Redis
// implementation and the Remember read-through helper.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis implements Store on top of go-redis. Every operation is bounded by
// opTimeout so an unreachable server degrades to an error quickly instead of
// stalling the caller.
type Redis struct {
	client    redis.UniversalClient
	opTimeout time.Duration
}

// NewRedis builds a Store from an already-configured client. opTimeout <= 0
// defaults to 250ms.
func NewRedis(client redis.UniversalClient, opTimeout time.Duration) *Redis {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Redis{client: client, opTimeout: opTimeout}
}

// Dial parses a redis:// URL and returns a connected client. The connection
// is lazy; an unreachable server surfaces as per-operation errors, which all
// call sites tolerate.
func Dial(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// Get returns the raw value for key, or ErrMiss when absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return val, err
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Del removes a single key.
func (r *Redis) Del(ctx context.Context, key string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

// DelPattern removes every key matching the glob pattern. SCAN is used
// instead of KEYS to stay friendly to a shared server.
func (r *Redis) DelPattern(ctx context.Context, pattern string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Remember is the read-through helper backing entity caches: it returns the
// cached value for key when present, otherwise it invokes load, stores the
// result with the TTL, and returns it.
//
// Cache failures (as opposed to misses) are logged at warn and treated as
// misses; a load error is returned as-is and nothing is cached.
func Remember[T any](ctx context.Context, s Store, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, err := s.Get(ctx, key)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
			return out, nil
		}
		// Corrupt entry: drop it and fall through to load.
		_ = s.Del(ctx, key)
	case !errors.Is(err, ErrMiss):
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, proceeding without cache")
	}

	out, err = load(ctx)
	if err != nil {
		return out, err
	}

	if raw, jsonErr := json.Marshal(out); jsonErr == nil {
		if setErr := s.Set(ctx, key, raw, ttl); setErr != nil {
			log.Warn().Err(setErr).Str("key", key).Msg("cache write failed")
		}
	}
	return out, nil
}
