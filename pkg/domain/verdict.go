package domain

import "time"

// VerdictLevel is the final trust classification of a URL.
type VerdictLevel string

const (
	VerdictBenign     VerdictLevel = "benign"
	VerdictSuspicious VerdictLevel = "suspicious"
	VerdictMalicious  VerdictLevel = "malicious"
)

// Verdict is the composed risk classification for a URL. It is derived,
// recomputed per scan, and cached by URLHash with its own TTL so a changed
// heuristic feed can produce a fresher verdict sooner than a full upstream
// re-query.
type Verdict struct {
	Level   VerdictLevel `json:"level"`
	Score   float64      `json:"score"`
	Reasons []string     `json:"reasons"`
	// CacheTTLSeconds is the level-dependent freshness window of this verdict.
	CacheTTLSeconds int       `json:"cacheTtl"`
	DecidedAt       time.Time `json:"decidedAt"`
}

// HeuristicResult is the network-free scorer's contribution to a verdict.
// HardFeedHit marks an exact-URL match in a hard local blocklist feed;
// SuspiciousFeedHit marks a softer domain-reputation listing. The composer
// uses the distinction to cap scores driven only by the soft feed.
type HeuristicResult struct {
	Score             float64  `json:"score"`
	Reasons           []string `json:"reasons"`
	HardFeedHit       bool     `json:"hardFeedHit"`
	SuspiciousFeedHit bool     `json:"suspiciousFeedHit"`
}
