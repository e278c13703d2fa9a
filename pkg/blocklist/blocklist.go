// Package blocklist implements the redundancy policy across the primary
// (Google Safe Browsing) and secondary (Phishtank) threat sources. The
// primary always runs first; the secondary runs only when the cost/latency
// policy decides a second opinion is worth its quota.
package blocklist

import (
	"context"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/metrics"

	"go.uber.org/zap"
)

// Decision carries the inputs of the secondary-lookup policy.
type Decision struct {
	// GsbHit is true when the primary returned at least one match.
	GsbHit bool
	// GsbErrored is true when the primary lookup failed.
	GsbErrored bool
	// GsbDurationMs is the primary lookup latency; zero for cache hits.
	GsbDurationMs int64
	// GsbFromCache is true when the primary result was served from cache.
	GsbFromCache bool
	// FallbackLatencyMs is the latency budget above which a live primary
	// result is considered too slow to trust alone.
	FallbackLatencyMs int64
	// GsbAPIKeyPresent is false when the primary is unusable for lack of credentials.
	GsbAPIKeyPresent bool
	// PhishtankEnabled gates the secondary source entirely.
	PhishtankEnabled bool
}

// ShouldQueryPhishtank decides whether to spend secondary-source quota.
//
// Policy:
//   - If Phishtank is disabled, never query.
//   - If the primary has no matches, query (a clean result needs a second opinion).
//   - If the primary errored, query (fallback).
//   - If the primary API key is missing, query (primary unusable).
//   - If a live primary lookup exceeded the latency budget, query.
//   - Otherwise skip: the primary had a clean, fast, authoritative hit.
func ShouldQueryPhishtank(d Decision) bool {
	if !d.PhishtankEnabled {
		return false
	}
	if !d.GsbHit {
		return true
	}
	if d.GsbErrored {
		return true
	}
	if !d.GsbAPIKeyPresent {
		return true
	}
	if !d.GsbFromCache && d.GsbDurationMs > d.FallbackLatencyMs {
		return true
	}

	return false
}

// GsbFetcher runs the primary lookup for a final URL. The returned result
// carries any failure in-band; fetchers never panic or propagate errors.
type GsbFetcher func(ctx context.Context, finalURL, urlHash string) domain.GsbFetchResult

// PhishtankFetcher runs the secondary lookup for a final URL.
type PhishtankFetcher func(ctx context.Context, finalURL, urlHash string) (*domain.PhishtankResult, error)

// Options configure a Checker.
type Options struct {
	FallbackLatencyMs int64
	GsbAPIKeyPresent  bool
	PhishtankEnabled  bool
}

// Checker merges the primary and conditional secondary lookups. The two
// fetchers are injected so the policy is testable without network clients;
// production wiring builds them from the cachedfetch wrapper around the gsb
// and phishtank clients.
type Checker struct {
	opts           Options
	fetchGsb       GsbFetcher
	fetchPhishtank PhishtankFetcher
}

// NewChecker creates a Checker with the given fetchers and policy options.
func NewChecker(opts Options, fetchGsb GsbFetcher, fetchPhishtank PhishtankFetcher) *Checker {
	return &Checker{
		opts:           opts,
		fetchGsb:       fetchGsb,
		fetchPhishtank: fetchPhishtank,
	}
}

// Check runs the blocklist redundancy policy for one resolved URL. It never
// returns an error: a failed primary leaves its error in GsbResult, a failed
// secondary leaves PhishtankErr set while GsbResult stands on its own.
func (c *Checker) Check(ctx context.Context, finalURL, urlHash string) domain.BlocklistCheckResult {
	gsbResult := c.fetchGsb(ctx, finalURL, urlHash)

	needed := ShouldQueryPhishtank(Decision{
		GsbHit:            gsbResult.Hit(),
		GsbErrored:        gsbResult.Err != nil,
		GsbDurationMs:     gsbResult.DurationMs,
		GsbFromCache:      gsbResult.FromCache,
		FallbackLatencyMs: c.opts.FallbackLatencyMs,
		GsbAPIKeyPresent:  c.opts.GsbAPIKeyPresent,
		PhishtankEnabled:  c.opts.PhishtankEnabled,
	})

	result := domain.BlocklistCheckResult{
		GsbResult:       gsbResult,
		PhishtankNeeded: needed,
	}
	if !needed {
		if gsbResult.Hit() {
			logger.Info(ctx, "primary found threats, skipping secondary check",
				zap.String("urlHash", urlHash),
				zap.Int("gsbMatches", len(gsbResult.Matches)))
		}

		return result
	}

	logger.Info(ctx, "running secondary redundancy check",
		zap.String("urlHash", urlHash),
		zap.Int("gsbMatches", len(gsbResult.Matches)),
		zap.Int64("gsbLatencyMs", gsbResult.DurationMs),
		zap.Bool("gsbFromCache", gsbResult.FromCache),
		zap.Bool("gsbErrored", gsbResult.Err != nil))
	metrics.SecondaryChecks.Inc()

	phishtankResult, err := c.fetchPhishtank(ctx, finalURL, urlHash)
	if err != nil {
		// secondary failure never fails the overall check
		logger.Warn(ctx, "secondary lookup failed", zap.String("urlHash", urlHash), zap.Error(err))
		result.PhishtankErr = err

		return result
	}

	result.PhishtankResult = phishtankResult
	if phishtankResult != nil && phishtankResult.InDatabase {
		verified := "false"
		if phishtankResult.Verified {
			verified = "true"
		}
		metrics.SecondaryHits.WithLabelValues(verified).Inc()
	}

	return result
}
