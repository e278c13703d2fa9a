package main

import (
	"net"
	"net/http"
	"time"

	"wbscanner/internal/config"
	"wbscanner/internal/pipeline"
	"wbscanner/pkg/artifacts"
	"wbscanner/pkg/blocklist"
	"wbscanner/pkg/blocklist/gsb"
	"wbscanner/pkg/blocklist/phishtank"
	"wbscanner/pkg/cache"
	"wbscanner/pkg/cachedfetch"
	"wbscanner/pkg/heuristics"
	"wbscanner/pkg/limiter"
	"wbscanner/pkg/resolver"
	"wbscanner/pkg/ssrfguard"
	"wbscanner/pkg/storage"
	"wbscanner/pkg/urlx"
)

// upstreamRetryAttempts caps retries of transient blocklist lookup failures.
const upstreamRetryAttempts = 3

// upstreamRetryBaseDelay is the first backoff delay; it doubles per retry.
const upstreamRetryBaseDelay = 200 * time.Millisecond

// components are the pipeline collaborators built from configuration. The
// scan command hands them to the pipeline; the check command drives them
// directly for a one-shot verdict without a database.
type components struct {
	hasher    *urlx.Hasher
	resolver  *resolver.Resolver
	checker   *blocklist.Checker
	scorer    *heuristics.Scorer
	artifacts *artifacts.Manager // nil when disabled
}

// buildComponents wires the url hasher, the SSRF-guarded resolver, the
// rate-limited and cached blocklist sources, the heuristic scorer and the
// optional artifact manager.
func buildComponents(cfg *config.Config, c cache.Cache) components {
	hasher := urlx.NewHasher(cfg.Scanner.HashKey)
	guard := ssrfguard.New(nil)

	// every outbound resolution hop dials through the guard so a malicious
	// redirect or DNS answer cannot reach internal addresses
	hopClient := resolver.NoRedirectClient(
		cfg.Scanner.HopTimeout,
		guard.DialContext(&net.Dialer{Timeout: cfg.Scanner.HopTimeout}),
	)

	var expansion *resolver.ExpansionClient
	if cfg.Expansion.Enabled {
		expansion = resolver.NewExpansionClient(
			&http.Client{Timeout: cfg.Scanner.HopTimeout},
			cfg.Expansion.Endpoint,
		)
	}
	res := resolver.New(resolver.Options{
		MaxRedirects:     cfg.Scanner.MaxRedirects,
		Timeout:          cfg.Scanner.HopTimeout,
		MaxContentLength: cfg.Scanner.MaxContentLength,
		ExpansionRetries: cfg.Expansion.Retries,
	}, guard, expansion, hopClient)

	gsbClient := gsb.New(&http.Client{Timeout: cfg.Scanner.HopTimeout}, cfg.Gsb.APIKey)
	gsbWrapper := &cachedfetch.Wrapper{
		Source:      "gsb",
		TTL:         cfg.Gsb.CacheTTL,
		MaxAttempts: upstreamRetryAttempts,
		BaseDelay:   upstreamRetryBaseDelay,
		Cache:       c,
		Limiter: limiter.NewReservoir(limiter.Options{
			Capacity:       cfg.Gsb.Reservoir,
			RefillAmount:   cfg.Gsb.RefillAmount,
			RefillInterval: cfg.Gsb.RefillInterval,
		}),
	}

	ptClient := phishtank.New(&http.Client{Timeout: cfg.Scanner.HopTimeout}, cfg.Phishtank.AppKey)
	ptWrapper := &cachedfetch.Wrapper{
		Source:      "phishtank",
		TTL:         cfg.Phishtank.CacheTTL,
		MaxAttempts: upstreamRetryAttempts,
		BaseDelay:   upstreamRetryBaseDelay,
		Cache:       c,
		Limiter: limiter.NewReservoir(limiter.Options{
			Capacity:       cfg.Phishtank.Reservoir,
			RefillAmount:   cfg.Phishtank.RefillAmount,
			RefillInterval: cfg.Phishtank.RefillInterval,
			Jitter:         cfg.Phishtank.Jitter,
		}),
	}

	checker := blocklist.NewChecker(blocklist.Options{
		FallbackLatencyMs: cfg.Phishtank.FallbackLatency.Milliseconds(),
		GsbAPIKeyPresent:  gsbClient.KeyPresent(),
		PhishtankEnabled:  cfg.Phishtank.Enabled,
	},
		pipeline.NewGsbFetcher(gsbClient, gsbWrapper),
		pipeline.NewPhishtankFetcher(ptClient, ptWrapper),
	)

	scorer := heuristics.NewScorer(heuristics.NewFeeds(cfg.Scanner.FeedDir))

	var artifactManager *artifacts.Manager
	if cfg.Artifacts.Enabled {
		artifactManager = artifacts.NewManager(
			cfg.Artifacts.Dir,
			cfg.Artifacts.BaseURL,
			&http.Client{Timeout: cfg.Artifacts.FetchTimeout},
		)
	}

	return components{
		hasher:    hasher,
		resolver:  res,
		checker:   checker,
		scorer:    scorer,
		artifacts: artifactManager,
	}
}

// buildPipeline wires the full verdict pipeline from configuration.
func buildPipeline(cfg *config.Config, strg storage.Storage, c cache.Cache) pipeline.Pipeline {
	comps := buildComponents(cfg, c)

	// a typed nil manager must not become a non-nil fetcher interface
	var artifactFetcher pipeline.ArtifactFetcher
	if comps.artifacts != nil {
		artifactFetcher = comps.artifacts
	}

	return pipeline.New(pipeline.NewOptions(cfg), strg, c,
		comps.hasher, comps.resolver, comps.checker, comps.scorer, artifactFetcher)
}
