package storage

import (
	"context"
	"time"
)

// CacheStorage defines TTL'd key/value cache operations backed by the
// database. Entries are opportunistic: callers must treat any error as a
// cache miss, never as a scan failure.
type CacheStorage interface {
	// GetCacheEntry returns the value stored under key. The second return is
	// false when the key is absent or its entry has expired.
	GetCacheEntry(ctx context.Context, key string) (string, bool, error)
	// SetCacheEntry stores value under key with the given TTL, replacing any
	// existing entry.
	SetCacheEntry(ctx context.Context, key, value string, ttl time.Duration) error
	// PurgeExpiredCacheEntries deletes entries past their expiry and returns
	// how many were removed. Intended for a periodic maintenance job.
	PurgeExpiredCacheEntries(ctx context.Context) (int64, error)
}
