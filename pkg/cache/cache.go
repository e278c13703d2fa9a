// Package cache defines the best-effort key/value store the pipeline uses to
// bound external API spend. Every consumer must tolerate an unavailable
// store: a failed read is a miss, a failed write is logged and swallowed.
package cache

import (
	"context"
	"time"
)

// Cache is the external cache/store collaborator. Implementations include the
// in-process Memory cache and the postgres-backed store.
//
//go:generate mockgen -package mockcache -source=cache.go -destination=mock/mockcache.go *
type Cache interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL, overwriting any previous
	// value. Concurrent writers for the same key are an idempotent overwrite,
	// not a conflict.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}
