package cache

import (
	"context"
	"time"

	"wbscanner/pkg/storage"
)

// Store adapts the database-backed cache storage to the Cache interface so
// the cached-fetch wrapper can run against postgres without knowing about it.
type Store struct {
	storage storage.CacheStorage
}

// NewStore wraps a CacheStorage as a Cache.
func NewStore(s storage.CacheStorage) *Store {
	return &Store{storage: s}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	return s.storage.GetCacheEntry(ctx, key) //nolint: wrapcheck
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.storage.SetCacheEntry(ctx, key, value, ttl) //nolint: wrapcheck
}
