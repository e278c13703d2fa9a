package pipeline

import (
	"context"

	"wbscanner/pkg/blocklist"
	"wbscanner/pkg/blocklist/gsb"
	"wbscanner/pkg/blocklist/phishtank"
	"wbscanner/pkg/cachedfetch"
	"wbscanner/pkg/domain"
)

// NewGsbFetcher adapts the Safe Browsing client into the primary fetcher the
// redundancy checker consumes. The cachedfetch wrapper supplies caching, rate
// limiting and bounded retry; lookup failures travel in-band on the result so
// the fallback policy can see them.
func NewGsbFetcher(client *gsb.Client, wrapper *cachedfetch.Wrapper) blocklist.GsbFetcher {
	return func(ctx context.Context, finalURL, urlHash string) domain.GsbFetchResult {
		res, err := cachedfetch.Do(ctx, wrapper, urlHash,
			func(ctx context.Context) ([]domain.ThreatMatch, error) {
				return client.Lookup(ctx, finalURL)
			})

		return domain.GsbFetchResult{
			Matches:    res.Value,
			FromCache:  res.FromCache,
			DurationMs: res.DurationMs,
			Err:        err,
		}
	}
}

// NewPhishtankFetcher adapts the Phishtank client into the secondary fetcher.
func NewPhishtankFetcher(client *phishtank.Client, wrapper *cachedfetch.Wrapper) blocklist.PhishtankFetcher {
	return func(ctx context.Context, finalURL, urlHash string) (*domain.PhishtankResult, error) {
		res, err := cachedfetch.Do(ctx, wrapper, urlHash,
			func(ctx context.Context) (domain.PhishtankResult, error) {
				return client.Lookup(ctx, finalURL)
			})
		if err != nil {
			return nil, err
		}
		value := res.Value

		return &value, nil
	}
}
