// Package metrics declares the Prometheus collectors shared by the scan
// pipeline. Collectors are registered on the default registerer and exposed
// through the HTTP server's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultBuckets provides a common set of histogram buckets in seconds that can
// be reused across the application for latency metrics.
var DefaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10} //nolint: gochecknoglobals

//nolint: gochecknoglobals
var (
	// ScansTotal counts processed scan jobs by outcome.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_scans_total",
		Help: "Processed scan jobs by outcome.",
	}, []string{"outcome"})

	// VerdictLevels counts composed verdicts by level.
	VerdictLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_verdict_levels_total",
		Help: "Composed verdicts by level.",
	}, []string{"level"})

	// VerdictScore observes the distribution of composed verdict scores.
	VerdictScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wbscanner_verdict_score",
		Help:    "Distribution of composed verdict scores.",
		Buckets: []float64{0, 1, 2, 3, 5, 7, 10, 15},
	})

	// CacheOutcomes counts cache reads per source split by hit/miss.
	CacheOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_cache_outcomes_total",
		Help: "Cache lookups per source by outcome (hit or miss).",
	}, []string{"source", "outcome"})

	// UpstreamLatency observes external call latency per source.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wbscanner_upstream_latency_seconds",
		Help:    "External service call latency per source.",
		Buckets: DefaultBuckets,
	}, []string{"source"})

	// UpstreamErrors counts external call failures per source and reason.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_upstream_errors_total",
		Help: "External service call failures per source and classified reason.",
	}, []string{"source", "reason"})

	// ExpansionOutcomes counts shortener/redirect expansions per provider and result.
	ExpansionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_expansion_outcomes_total",
		Help: "Shortener/redirect expansion attempts per provider and result.",
	}, []string{"provider", "result"})

	// SecondaryChecks counts Phishtank redundancy lookups.
	SecondaryChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wbscanner_phishtank_secondary_checks_total",
		Help: "Phishtank redundancy lookups triggered by the fallback policy.",
	})

	// SecondaryHits counts Phishtank database hits by verification state.
	SecondaryHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_phishtank_secondary_hits_total",
		Help: "Phishtank database hits by verification state.",
	}, []string{"verified"})

	// ArtifactFailures counts artifact download failures by type and reason.
	ArtifactFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wbscanner_artifact_download_failures_total",
		Help: "Artifact download failures by artifact type and reason.",
	}, []string{"artifact", "reason"})
)
