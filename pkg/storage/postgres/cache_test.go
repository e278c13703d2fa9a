package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPgSQL_CacheEntry_RoundTrip(t *testing.T) {
	pg, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, found, err := pg.GetCacheEntry(ctx, "gsb:deadbeef")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, pg.SetCacheEntry(ctx, "gsb:deadbeef", `{"hit":false}`, time.Hour))

	value, found, err := pg.GetCacheEntry(ctx, "gsb:deadbeef")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"hit":false}`, value)
}

func TestPgSQL_CacheEntry_Upsert(t *testing.T) {
	pg, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, pg.SetCacheEntry(ctx, "verdict:cafe", "old", time.Hour))
	require.NoError(t, pg.SetCacheEntry(ctx, "verdict:cafe", "new", time.Hour))

	value, found, err := pg.GetCacheEntry(ctx, "verdict:cafe")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", value)
}

func TestPgSQL_CacheEntry_ExpiredIsMiss(t *testing.T) {
	pg, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, pg.SetCacheEntry(ctx, "phishtank:feed", "stale", -time.Second))

	_, found, err := pg.GetCacheEntry(ctx, "phishtank:feed")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPgSQL_PurgeExpiredCacheEntries(t *testing.T) {
	pg, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, pg.SetCacheEntry(ctx, "keep", "v", time.Hour))
	require.NoError(t, pg.SetCacheEntry(ctx, "drop-1", "v", -time.Second))
	require.NoError(t, pg.SetCacheEntry(ctx, "drop-2", "v", -time.Minute))

	purged, err := pg.PurgeExpiredCacheEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), purged)

	_, found, err := pg.GetCacheEntry(ctx, "keep")
	require.NoError(t, err)
	require.True(t, found)
}
