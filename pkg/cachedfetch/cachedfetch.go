// Package cachedfetch wraps external lookups with the shared cache/rate-limit
// policy: check cache, acquire a rate-limit token, call upstream with bounded
// retry, store the result. The policy is a decorator composed around a pure
// fetch function so it stays unit-testable independent of any upstream
// client.
package cachedfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wbscanner/pkg/cache"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/metrics"
	"wbscanner/pkg/serrors"

	"go.uber.org/zap"
)

// Limiter is the token-consumption dependency; limiter.Reservoir satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Wrapper carries the per-source policy around one upstream: its cache, its
// reservoir and its retry parameters. Built once at wiring time and shared by
// all scans. Fetch failures are classified through serrors kinds:
//
//   - ErrRateLimited: no retry within this call; the reservoir's natural
//     refill governs pacing.
//   - ErrUpstream, ErrTimeout: bounded exponential backoff retry.
//   - anything else: fail fast.
type Wrapper struct {
	// Source names the upstream; it prefixes cache keys and metric labels.
	Source string
	// TTL is the cache lifetime of successful results for this source.
	TTL time.Duration
	// MaxAttempts caps total fetch attempts for retryable failures. Zero
	// means a single attempt.
	MaxAttempts int
	// BaseDelay is the first backoff delay; it doubles per retry.
	BaseDelay time.Duration

	Cache   cache.Cache
	Limiter Limiter

	// sleep is an indirection for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Result is a fetched or cached value plus its provenance.
type Result[T any] struct {
	Value T
	// FromCache is true when the value was served without touching the rate
	// limiter or the upstream.
	FromCache bool
	// DurationMs is the upstream call latency; zero for cache hits.
	DurationMs int64
}

func (w *Wrapper) sleepFn() func(ctx context.Context, d time.Duration) error {
	if w.sleep != nil {
		return w.sleep
	}

	return func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint: wrapcheck
		case <-t.C:
			return nil
		}
	}
}

// retryable reports whether err warrants another attempt.
func retryable(err error) bool {
	if errors.Is(err, serrors.ErrRateLimited) {
		return false
	}

	return errors.Is(err, serrors.ErrUpstream) || errors.Is(err, serrors.ErrTimeout)
}

// Do runs the full policy for one key. A cache-read failure never fails the
// lookup, it only forces a live call; a cache-write failure is logged and
// swallowed.
func Do[T any](ctx context.Context, w *Wrapper, key string, fetch func(ctx context.Context) (T, error)) (Result[T], error) {
	cacheKey := w.Source + ":" + key

	if raw, ok, err := w.Cache.Get(ctx, cacheKey); err != nil {
		logger.Warn(ctx, "cache read failed, falling through to live lookup",
			zap.String("source", w.Source), zap.Error(err))
	} else if ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			metrics.CacheOutcomes.WithLabelValues(w.Source, "hit").Inc()

			return Result[T]{Value: v, FromCache: true}, nil
		}
		// undecodable entry is treated as a miss and overwritten below
		logger.Warn(ctx, "dropping undecodable cache entry", zap.String("source", w.Source))
	}
	metrics.CacheOutcomes.WithLabelValues(w.Source, "miss").Inc()

	if err := w.Limiter.Acquire(ctx); err != nil {
		return Result[T]{}, fmt.Errorf("could not acquire %s rate limit token: %w", w.Source, err)
	}

	value, durationMs, err := fetchWithRetry(ctx, w, fetch)
	if err != nil {
		return Result[T]{DurationMs: durationMs}, err
	}

	if raw, err := json.Marshal(value); err != nil {
		logger.Warn(ctx, "could not marshal result for cache", zap.String("source", w.Source), zap.Error(err))
	} else if err := w.Cache.Set(ctx, cacheKey, string(raw), w.TTL); err != nil {
		logger.Warn(ctx, "cache write failed", zap.String("source", w.Source), zap.Error(err))
	}

	return Result[T]{Value: value, DurationMs: durationMs}, nil
}

func fetchWithRetry[T any](ctx context.Context, w *Wrapper, fetch func(ctx context.Context) (T, error)) (T, int64, error) {
	attempts := w.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := w.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	sleep := w.sleepFn()

	var (
		value T
		err   error
	)
	start := time.Now()
	for attempt := 1; ; attempt++ {
		value, err = fetch(ctx)
		if err == nil {
			durationMs := time.Since(start).Milliseconds()
			metrics.UpstreamLatency.WithLabelValues(w.Source).Observe(time.Since(start).Seconds())

			return value, durationMs, nil
		}

		metrics.UpstreamErrors.WithLabelValues(w.Source, classify(err)).Inc()
		if attempt >= attempts || !retryable(err) {
			break
		}

		logger.Debug(ctx, "retrying upstream call",
			zap.String("source", w.Source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return value, time.Since(start).Milliseconds(), fmt.Errorf("abandoned retry backoff: %w", sleepErr)
		}
		delay *= 2
	}

	return value, time.Since(start).Milliseconds(), fmt.Errorf("%s lookup failed: %w", w.Source, err)
}

// classify maps an error to a low-cardinality metric label.
func classify(err error) string {
	switch {
	case errors.Is(err, serrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, serrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, serrors.ErrUpstream):
		return "server_error"
	default:
		return "unknown"
	}
}
