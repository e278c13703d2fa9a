// Package verdict composes blocklist and heuristic results into the final
// trust classification. Composition is a pure function: it never touches the
// network or the cache, so identical inputs always produce the same verdict.
package verdict

import (
	"fmt"
	"strings"
	"time"

	"wbscanner/pkg/domain"
)

// Score clamp and level thresholds. A hit on an authoritative blocklist
// contributes enough on its own to cross the malicious threshold.
const (
	maxScore = 15

	benignMax     = 3
	suspiciousMax = 7
)

// Cache TTLs per level: risky verdicts expire fast so remediation is picked
// up quickly, clean ones are kept for a day.
const (
	benignTTLSeconds     = 86400
	suspiciousTTLSeconds = 3600
	maliciousTTLSeconds  = 900
)

// gsbMaliciousThreatTypes are the Safe Browsing threat types treated as
// authoritative malicious signals.
var gsbMaliciousThreatTypes = map[string]struct{}{ //nolint: gochecknoglobals
	"MALWARE":                         {},
	"SOCIAL_ENGINEERING":              {},
	"UNWANTED_SOFTWARE":               {},
	"MALICIOUS_BINARY":                {},
	"POTENTIALLY_HARMFUL_APPLICATION": {},
}

// Compose merges the blocklist check and the heuristic score into a Verdict.
// A primary-source malicious match or a verified secondary hit is weighted so
// it alone crosses the malicious threshold. Scores driven only by the soft
// suspicious-domain feed are capped below malicious.
func Compose(blocklist domain.BlocklistCheckResult, heuristic domain.HeuristicResult) domain.Verdict {
	score := heuristic.Score
	reasons := make([]string, 0, len(heuristic.Reasons)+2)
	seen := make(map[string]struct{}, len(heuristic.Reasons)+2)
	push := func(reason string) {
		if reason == "" {
			return
		}
		if _, dup := seen[reason]; dup {
			return
		}
		seen[reason] = struct{}{}
		reasons = append(reasons, reason)
	}

	threatTypes := make([]string, 0, len(blocklist.GsbResult.Matches))
	gsbMalicious := false
	for _, match := range blocklist.GsbResult.Matches {
		if match.ThreatType == "" {
			continue
		}
		threatTypes = append(threatTypes, match.ThreatType)
		if _, ok := gsbMaliciousThreatTypes[match.ThreatType]; ok {
			gsbMalicious = true
		}
	}
	if gsbMalicious {
		score += 10
		push(fmt.Sprintf("Google Safe Browsing: %s", strings.Join(threatTypes, ", ")))
	}

	phishtankVerified := blocklist.PhishtankResult != nil && blocklist.PhishtankResult.Verified
	switch {
	case phishtankVerified:
		score += 10
		push("Verified phishing (Phishtank)")
	case blocklist.PhishtankResult != nil && blocklist.PhishtankResult.InDatabase:
		score += 5
		push("Reported phishing (Phishtank, unverified)")
	}

	for _, reason := range heuristic.Reasons {
		push(reason)
	}

	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}

	hardBlocklist := gsbMalicious || phishtankVerified ||
		len(threatTypes) > 0 || heuristic.HardFeedHit
	if heuristic.SuspiciousFeedHit && !hardBlocklist && score > suspiciousMax {
		score = suspiciousMax
	}

	level, ttl := levelFor(score)

	return domain.Verdict{
		Level:           level,
		Score:           score,
		Reasons:         reasons,
		CacheTTLSeconds: ttl,
		DecidedAt:       time.Now().UTC(),
	}
}

func levelFor(score float64) (domain.VerdictLevel, int) {
	switch {
	case score <= benignMax:
		return domain.VerdictBenign, benignTTLSeconds
	case score <= suspiciousMax:
		return domain.VerdictSuspicious, suspiciousTTLSeconds
	default:
		return domain.VerdictMalicious, maliciousTTLSeconds
	}
}
