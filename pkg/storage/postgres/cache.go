package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
)

const (
	cacheTable = "cache_entries"
)

// GetCacheEntry returns the value stored under key, treating expired entries
// as absent. Expired rows are left for PurgeExpiredCacheEntries.
func (p *PgSQL) GetCacheEntry(ctx context.Context, key string) (string, bool, error) {
	var row PgCacheEntry
	found, err := p.Builder.From(cacheTable).
		Where(
			goqu.I("key").Eq(key),
			goqu.I("expires_at").Gt(goqu.L("CURRENT_TIMESTAMP")),
		).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return "", false, fmt.Errorf("could not fetch cache entry from pg: %w", err)
	}
	if !found {
		return "", false, nil
	}

	return row.Value, true, nil
}

// SetCacheEntry upserts a cache entry with the given TTL.
func (p *PgSQL) SetCacheEntry(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := PgCacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	_, err := p.Builder.Insert(cacheTable).
		Rows(entry).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"value":      entry.Value,
			"expires_at": entry.ExpiresAt,
		})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("could not store cache entry into pg: %w", err)
	}

	return nil
}

// PurgeExpiredCacheEntries removes entries past their expiry.
func (p *PgSQL) PurgeExpiredCacheEntries(ctx context.Context) (int64, error) {
	result, err := p.Builder.Delete(cacheTable).
		Where(goqu.I("expires_at").Lte(goqu.L("CURRENT_TIMESTAMP"))).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not purge expired cache entries from pg: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not read purge result: %w", err)
	}

	return affected, nil
}
