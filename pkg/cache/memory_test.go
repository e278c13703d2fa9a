package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"wbscanner/pkg/cache"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	_, found, err := m.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.Set(ctx, "k", "v1", time.Hour))

	value, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", value)

	// overwrite is idempotent last-writer-wins
	require.NoError(t, m.Set(ctx, "k", "v2", time.Hour))
	value, _, err = m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", value)
}

func TestMemoryExpiredEntryIsMiss(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "stale", "v", -time.Second))

	_, found, err := m.Get(ctx, "stale")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.Set(ctx, "shared", "v", time.Hour))
			_, _, err := m.Get(ctx, "shared")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	value, found, err := m.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)
}
