// Package pipeline coordinates one URL scan end to end: enqueueing, redirect
// resolution, the concurrent blocklist and heuristic checks, verdict
// composition, caching and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wbscanner/internal/config"
	"wbscanner/pkg/artifacts"
	"wbscanner/pkg/cache"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/metrics"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/storage"
	"wbscanner/pkg/urlx"
	"wbscanner/pkg/verdict"

	"go.uber.org/zap"
)

// Resolver follows a URL through its redirect chain. pkg/resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) domain.ResolutionResult
}

// BlocklistChecker merges the primary and conditional secondary threat
// lookups. pkg/blocklist satisfies it.
type BlocklistChecker interface {
	Check(ctx context.Context, finalURL, urlHash string) domain.BlocklistCheckResult
}

// HeuristicScorer produces the network-free structural score.
// pkg/heuristics satisfies it.
type HeuristicScorer interface {
	Score(ctx context.Context, resolution domain.ResolutionResult) domain.HeuristicResult
}

// ArtifactFetcher downloads validated evidence files. pkg/artifacts satisfies it.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, scanID, urlHash string, payload artifacts.TaskPayload) (domain.ArtifactPaths, error)
}

// Options configure how scan jobs are enqueued and processed.
type Options struct {
	// MaxAttempts is the maximum number of attempts the background worker should
	// make when processing a scan job before marking it failed.
	MaxAttempts int
	// UniqueJobPeriod is the lookback window during which a second job for the
	// same url hash is considered a duplicate.
	UniqueJobPeriod time.Duration
}

// NewOptions constructs an Options value from the provided application config.
func NewOptions(cfg *config.Config) Options {
	return Options{
		MaxAttempts: cfg.Scanner.MaxAttempts,
		// the longest verdict TTL; completed jobs inside this window satisfy
		// new requests for the same hash
		UniqueJobPeriod: 24 * time.Hour,
	}
}

// pipeline is the concrete implementation of the Pipeline interface.
type pipeline struct {
	options   Options
	storage   storage.Storage
	cache     cache.Cache
	hasher    *urlx.Hasher
	resolver  Resolver
	checker   BlocklistChecker
	scorer    HeuristicScorer
	artifacts ArtifactFetcher // nil when artifact retrieval is disabled
}

// New creates a Pipeline backed by the provided collaborators. artifactFetcher
// may be nil when artifact retrieval is disabled.
func New(
	options Options,
	strg storage.Storage,
	c cache.Cache,
	hasher *urlx.Hasher,
	res Resolver,
	checker BlocklistChecker,
	scorer HeuristicScorer,
	artifactFetcher ArtifactFetcher,
) Pipeline {
	return &pipeline{
		options:   options,
		storage:   strg,
		cache:     c,
		hasher:    hasher,
		resolver:  res,
		checker:   checker,
		scorer:    scorer,
		artifacts: artifactFetcher,
	}
}

// Enqueue stores a new scan request for the given URL and attempts to enqueue
// a background job to process it. If a recent completed result exists for the
// same url hash (within the verdict's own TTL), the new scan is immediately
// marked as completed with that result.
func (p *pipeline) Enqueue(ctx context.Context, rawURL string) (*domain.Scan, error) {
	target, err := p.hasher.Target(rawURL)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrBadRequest, err, "invalid URL")
	}

	var scan *domain.Scan
	if err := p.storage.WithTx(ctx, func(tx storage.AllStorage) error {
		res, err := tx.StoreScans(ctx, domain.Scan{
			URLHash: target.URLHash,
			URL:     target.NormalizedURL,
			Status:  domain.ScanStatusPending,
		})
		if err != nil {
			return fmt.Errorf("could not store scan: %w", err)
		}
		scan = &res[0]

		jobAdded, err := tx.AddJob(ctx, JobArgs{
			URLHash:         target.URLHash,
			URL:             target.NormalizedURL,
			maxAttempts:     p.options.MaxAttempts,
			uniqueJobPeriod: p.options.UniqueJobPeriod,
		}, nil)
		if err != nil {
			return fmt.Errorf("could not add job: %w", err)
		}

		// if a job was not added, another job already exists for this hash.
		// river unique jobs prevent duplicate work for the same url.
		if !jobAdded {
			// if the existing job already completed with a still-fresh
			// verdict, reuse it for the new scan
			last, err := tx.LastCompletedScanByHash(ctx, target.URLHash)
			if err != nil {
				return fmt.Errorf("could not get last completed scan: %w", err)
			}

			if last != nil && verdictFresh(last) {
				updated, err := tx.UpdateScanByID(ctx, scan.ID, storage.ScanUpdates{
					Status:     domain.ScanStatusCompleted,
					Verdict:    &last.Verdict,
					Resolution: &last.Resolution,
				})
				if err != nil {
					return fmt.Errorf("could not update scan: %w", err)
				}
				scan = updated
			} // else: the job is in the queue and will be processed soon.
			// The worker updates all pending scans by hash upon completion.
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("could not enqueue URL: %w", err)
	}

	return scan, nil
}

// verdictFresh reports whether a completed scan's verdict is still inside its
// own level-dependent TTL.
func verdictFresh(scan *domain.Scan) bool {
	if scan.Verdict.CacheTTLSeconds <= 0 {
		return false
	}

	return time.Since(scan.UpdatedAt) < time.Duration(scan.Verdict.CacheTTLSeconds)*time.Second
}

// verdictCacheKey builds the cache key for a composed verdict payload.
func verdictCacheKey(urlHash string) string { return "verdict:" + urlHash }

// Process runs the full verdict pipeline for one scan job: verdict-cache
// check, redirect resolution, concurrent blocklist and heuristic checks,
// verdict composition, optional artifact retrieval, caching and persistence.
func (p *pipeline) Process(ctx context.Context, job JobArgs) (*domain.VerdictPayload, error) {
	// skip work when every scan for this hash has been deleted or completed
	pending, err := p.storage.PendingScanCountByHash(ctx, job.URLHash)
	if err != nil {
		return nil, fmt.Errorf("could not count pending scans: %w", err)
	}
	if pending == 0 {
		logger.Debug(ctx, "no pending scans for hash, skipping", zap.String("urlHash", job.URLHash))
		metrics.ScansTotal.WithLabelValues("skipped").Inc()

		return nil, nil //nolint: nilnil
	}

	if payload := p.cachedPayload(ctx, job.URLHash); payload != nil {
		if err := p.persist(ctx, job.URLHash, payload); err != nil {
			return nil, err
		}
		metrics.ScansTotal.WithLabelValues("cache_hit").Inc()

		return payload, nil
	}

	resolution := p.resolver.Resolve(ctx, job.URL)

	// blocklist lookups go to the network, heuristic scoring does not; run
	// them concurrently and join before composing
	var (
		wg         sync.WaitGroup
		blResult   domain.BlocklistCheckResult
		heurResult domain.HeuristicResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		blResult = p.checker.Check(ctx, resolution.FinalURL, job.URLHash)
	}()
	go func() {
		defer wg.Done()
		heurResult = p.scorer.Score(ctx, resolution)
	}()
	wg.Wait()

	v := verdict.Compose(blResult, heurResult)
	metrics.VerdictLevels.WithLabelValues(string(v.Level)).Inc()
	metrics.VerdictScore.Observe(v.Score)

	payload := &domain.VerdictPayload{
		URLHash:    job.URLHash,
		Verdict:    v,
		Resolution: resolution,
	}

	if job.Artifacts != nil && p.artifacts != nil {
		paths, err := p.artifacts.Fetch(ctx, job.ScanID, job.URLHash, *job.Artifacts)
		if err != nil {
			// evidence is auxiliary; a failed fetch never fails the scan
			logger.Warn(ctx, "could not fetch artifacts",
				zap.String("urlHash", job.URLHash), zap.Error(err))
		} else if paths.ScreenshotPath != "" || paths.DOMPath != "" {
			payload.Artifacts = &paths
		}
	}

	p.storePayload(ctx, payload)

	if err := p.persist(ctx, job.URLHash, payload); err != nil {
		return nil, err
	}
	metrics.ScansTotal.WithLabelValues("completed").Inc()

	return payload, nil
}

// cachedPayload returns the cached verdict payload for a hash, or nil on
// miss. Cache failures are treated as misses.
func (p *pipeline) cachedPayload(ctx context.Context, urlHash string) *domain.VerdictPayload {
	raw, ok, err := p.cache.Get(ctx, verdictCacheKey(urlHash))
	if err != nil {
		logger.Warn(ctx, "verdict cache read failed", zap.String("urlHash", urlHash), zap.Error(err))

		return nil
	}
	if !ok {
		return nil
	}

	var payload domain.VerdictPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logger.Warn(ctx, "dropping undecodable cached verdict", zap.String("urlHash", urlHash))

		return nil
	}

	return &payload
}

// storePayload caches the payload under the verdict's level-dependent TTL.
// Write failures are logged and swallowed.
func (p *pipeline) storePayload(ctx context.Context, payload *domain.VerdictPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn(ctx, "could not marshal verdict payload for cache", zap.Error(err))

		return
	}

	ttl := time.Duration(payload.Verdict.CacheTTLSeconds) * time.Second
	if err := p.cache.Set(ctx, verdictCacheKey(payload.URLHash), string(raw), ttl); err != nil {
		logger.Warn(ctx, "verdict cache write failed",
			zap.String("urlHash", payload.URLHash), zap.Error(err))
	}
}

// persist marks every pending scan for the hash completed with the composed
// verdict and resolution.
func (p *pipeline) persist(ctx context.Context, urlHash string, payload *domain.VerdictPayload) error {
	clearErr := ""
	if err := p.storage.UpdatePendingScansByHash(ctx, urlHash, storage.ScanUpdates{
		Status:     domain.ScanStatusCompleted,
		Verdict:    &payload.Verdict,
		Resolution: &payload.Resolution,
		LastError:  &clearErr,
	}); err != nil {
		return fmt.Errorf("could not persist verdict: %w", err)
	}

	return nil
}

// VerdictByHash returns the most recent completed scan for a url hash.
func (p *pipeline) VerdictByHash(ctx context.Context, urlHash string) (*domain.Scan, error) {
	scan, err := p.storage.LastCompletedScanByHash(ctx, urlHash)
	if err != nil {
		return nil, fmt.Errorf("could not get last completed scan: %w", err)
	}
	if scan == nil {
		return nil, serrors.With(serrors.ErrNotFound, "no completed scan for hash")
	}

	return scan, nil
}
