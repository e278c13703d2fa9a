package cachedfetch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wbscanner/pkg/cache"
	"wbscanner/pkg/cachedfetch"
	"wbscanner/pkg/serrors"

	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	acquired int
	err      error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.acquired++

	return l.err
}

type faultyCache struct {
	inner   cache.Cache
	getErr  error
	setErr  error
	setKeys []string
}

func (f *faultyCache) Get(ctx context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}

	return f.inner.Get(ctx, key)
}

func (f *faultyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.setKeys = append(f.setKeys, key)
	if f.setErr != nil {
		return f.setErr
	}

	return f.inner.Set(ctx, key, value, ttl)
}

func newWrapper(c cache.Cache, l cachedfetch.Limiter) *cachedfetch.Wrapper {
	return &cachedfetch.Wrapper{
		Source:      "gsb",
		TTL:         time.Hour,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Cache:       c,
		Limiter:     l,
	}
}

func TestDoCachesLiveResult(t *testing.T) {
	lim := &countingLimiter{}
	w := newWrapper(cache.NewMemory(), lim)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++

		return "clean", nil
	}

	first, err := cachedfetch.Do(ctx, w, "abc123", fetch)
	require.NoError(t, err)
	require.Equal(t, "clean", first.Value)
	require.False(t, first.FromCache)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, lim.acquired)

	second, err := cachedfetch.Do(ctx, w, "abc123", fetch)
	require.NoError(t, err)
	require.Equal(t, "clean", second.Value)
	require.True(t, second.FromCache)
	require.Zero(t, second.DurationMs)
	// cache hit touches neither the limiter nor the upstream
	require.Equal(t, 1, calls)
	require.Equal(t, 1, lim.acquired)
}

func TestDoRetriesUpstreamErrors(t *testing.T) {
	w := newWrapper(cache.NewMemory(), &countingLimiter{})

	calls := 0
	result, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, serrors.KindOnly(serrors.ErrUpstream)
		}

		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result.Value)
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetryRateLimited(t *testing.T) {
	w := newWrapper(cache.NewMemory(), &countingLimiter{})

	calls := 0
	_, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (int, error) {
		calls++

		return 0, serrors.KindOnly(serrors.ErrRateLimited)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrRateLimited)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	w := newWrapper(cache.NewMemory(), &countingLimiter{})

	calls := 0
	_, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (int, error) {
		calls++

		return 0, serrors.KindOnly(serrors.ErrTimeout)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, serrors.ErrTimeout)
	require.Equal(t, 3, calls)
}

func TestDoCacheReadFailureFallsThroughToLive(t *testing.T) {
	fc := &faultyCache{inner: cache.NewMemory(), getErr: errors.New("store down")}
	w := newWrapper(fc, &countingLimiter{})

	result, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (string, error) {
		return "live", nil
	})
	require.NoError(t, err)
	require.Equal(t, "live", result.Value)
	require.False(t, result.FromCache)
}

func TestDoCacheWriteFailureIsSwallowed(t *testing.T) {
	fc := &faultyCache{inner: cache.NewMemory(), setErr: errors.New("store down")}
	w := newWrapper(fc, &countingLimiter{})

	result, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (string, error) {
		return "live", nil
	})
	require.NoError(t, err)
	require.Equal(t, "live", result.Value)
	require.Equal(t, []string{"gsb:k"}, fc.setKeys)
}

func TestDoLimiterFailurePropagates(t *testing.T) {
	lim := &countingLimiter{err: context.Canceled}
	w := newWrapper(cache.NewMemory(), lim)

	calls := 0
	_, err := cachedfetch.Do(context.Background(), w, "k", func(context.Context) (int, error) {
		calls++

		return 0, nil
	})
	require.Error(t, err)
	require.Zero(t, calls)
}
