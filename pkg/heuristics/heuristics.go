// Package heuristics scores URLs from structure and local threat feeds
// alone. It never makes a network call, which lets it run concurrently with
// the blocklist checker and still produce a score when every upstream is
// down.
package heuristics

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"

	"go.uber.org/zap"
)

var suspiciousTLDs = map[string]struct{}{ //nolint: gochecknoglobals
	"zip": {}, "mov": {}, "tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {},
	"work": {}, "click": {}, "country": {}, "kim": {}, "men": {}, "party": {},
	"science": {}, "top": {}, "xyz": {}, "club": {}, "link": {}, "download": {},
}

var executableExtPattern = regexp.MustCompile(`(?i)\.(exe|msi|apk|bat|cmd|ps1|scr|jar|pkg|dmg|iso)$`) //nolint: gochecknoglobals

var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm", "1234567890"} //nolint: gochecknoglobals

// homoglyphVariants maps latin letters to lookalike characters commonly used
// in spoofed hostnames (Cyrillic and accented forms).
var homoglyphVariants = map[rune][]rune{ //nolint: gochecknoglobals
	'a': {'а', 'à', 'á', 'â', 'ã', 'ä', 'å'},
	'e': {'е', 'è', 'é', 'ê', 'ë'},
	'o': {'о', 'ò', 'ó', 'ô', 'õ', 'ö'},
	'p': {'р'},
	'c': {'с'},
	'x': {'х'},
}

var commonPorts = map[int]struct{}{80: {}, 443: {}, 8080: {}, 8443: {}} //nolint: gochecknoglobals

// Signals are the structural observations extracted from a single URL.
type Signals struct {
	IsIPLiteral            bool
	HasSuspiciousTLD       bool
	HasUncommonPort        bool
	HasExecutableExtension bool
	HasUserInfo            bool
	URLLength              int
	Entropy                float64
	SubdomainCount         int
	HasNumericSubdomains   bool
	HasLongSubdomains      bool
	KeyboardWalk           bool
	SuspiciousPatterns     []string
	PathDepth              int
	Homoglyphs             []string
}

// Extract computes the structural signals of a parsed URL.
func Extract(u *url.URL) Signals {
	hostname := strings.ToLower(u.Hostname())

	s := Signals{
		URLLength:          len(u.String()),
		Entropy:            shannonEntropy(hostname),
		KeyboardWalk:       hasKeyboardWalk(hostname),
		SuspiciousPatterns: suspiciousCharacterPatterns(u.String()),
		PathDepth:          pathDepth(u.Path),
		Homoglyphs:         homoglyphsIn(hostname),
		HasUserInfo:        u.User != nil,
	}

	if _, err := netip.ParseAddr(hostname); err == nil {
		s.IsIPLiteral = true
	}

	if i := strings.LastIndex(hostname, "."); i >= 0 && !s.IsIPLiteral {
		_, s.HasSuspiciousTLD = suspiciousTLDs[hostname[i+1:]]
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	_, common := commonPorts[port]
	s.HasUncommonPort = !common

	s.HasExecutableExtension = executableExtPattern.MatchString(u.Path)

	subdomains := subdomainLabels(hostname)
	s.SubdomainCount = len(subdomains)
	for _, label := range subdomains {
		if isNumericLabel(label) {
			s.HasNumericSubdomains = true
		}
		if len(label) > 20 {
			s.HasLongSubdomains = true
		}
	}

	return s
}

// Scorer turns resolution results into a heuristic risk score by combining
// structural signals with local feed memberships.
type Scorer struct {
	feeds *Feeds
}

// NewScorer creates a Scorer backed by the given local feeds. A nil feeds
// disables feed lookups but keeps structural scoring.
func NewScorer(feeds *Feeds) *Scorer {
	return &Scorer{feeds: feeds}
}

// Score computes the heuristic contribution for a resolved URL. It never
// fails: an unparseable URL produces a zero score, matching the rule that a
// scorer fault degrades the scan rather than aborting it.
func (s *Scorer) Score(ctx context.Context, resolution domain.ResolutionResult) domain.HeuristicResult {
	u, err := url.Parse(resolution.FinalURL)
	if err != nil || u.Hostname() == "" {
		logger.Warn(ctx, "heuristic scoring skipped for unparseable url",
			zap.String("url", resolution.FinalURL), zap.Error(err))

		return domain.HeuristicResult{Reasons: []string{}}
	}

	signals := Extract(u)
	var feedSignals FeedSignals
	if s.feeds != nil {
		feedSignals = s.feeds.Lookup(resolution.FinalURL)
	}

	var score float64
	reasons := make([]string, 0, 4)
	add := func(points float64, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	if feedSignals.OpenphishListed {
		add(10, "Known phishing (OpenPhish)")
	}
	if feedSignals.URLhausListed {
		add(10, "Known malware distribution (URLhaus)")
	}
	if feedSignals.SuspiciousDomainListed {
		add(5, "Domain listed in suspicious activity feed")
	}

	if signals.IsIPLiteral {
		add(3, "URL uses IP address")
	}
	if signals.HasUserInfo {
		add(6, "URL contains embedded credentials")
	}
	if signals.HasSuspiciousTLD {
		add(2, "Suspicious TLD")
	}
	if resolution.RedirectCount() >= 3 {
		add(2, fmt.Sprintf("Multiple redirects (%d)", resolution.RedirectCount()))
	}
	if signals.HasUncommonPort {
		add(2, "Uncommon port")
	}
	if signals.URLLength > 200 {
		add(2, fmt.Sprintf("Long URL (%d chars)", signals.URLLength))
	}
	if signals.HasExecutableExtension {
		add(1, "Executable file extension")
	}
	if resolution.WasShortened {
		add(1, "Shortened URL expanded")
	}

	if signals.Entropy > 4.5 {
		add(0.6, "High entropy in hostname (possible DGA)")
	}
	subdomainScore := 0.0
	if signals.HasNumericSubdomains {
		subdomainScore += 0.3
	}
	if signals.SubdomainCount > 4 {
		subdomainScore += 0.4
	}
	if signals.HasLongSubdomains {
		subdomainScore += 0.3
	}
	if subdomainScore > 0 {
		add(subdomainScore, "Suspicious subdomain structure")
	}
	if signals.KeyboardWalk {
		add(0.4, "Keyboard walk pattern detected")
	}
	if len(signals.SuspiciousPatterns) > 0 {
		add(0.3*float64(len(signals.SuspiciousPatterns)),
			fmt.Sprintf("Suspicious characters: %s", strings.Join(signals.SuspiciousPatterns, ", ")))
	}
	if signals.PathDepth > 8 {
		add(0.2, "Deep path structure")
	}
	if len(signals.Homoglyphs) > 0 {
		add(0.5, "Potential homograph attack")
	}

	return domain.HeuristicResult{
		Score:             score,
		Reasons:           reasons,
		HardFeedHit:       feedSignals.OpenphishListed || feedSignals.URLhausListed,
		SuspiciousFeedHit: feedSignals.SuspiciousDomainListed,
	}
}

func pathDepth(path string) int {
	depth := 0
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			depth++
		}
	}

	return depth
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// subdomainLabels returns hostname labels left of the registrable domain
// (treated as the last two labels).
func subdomainLabels(hostname string) []string {
	parts := strings.Split(hostname, ".")
	if len(parts) <= 2 {
		return nil
	}

	return parts[:len(parts)-2]
}

func isNumericLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func hasKeyboardWalk(s string) bool {
	lowered := strings.ToLower(s)
	for _, row := range keyboardRows {
		for i := 0; i+4 <= len(row); i++ {
			if strings.Contains(lowered, row[i:i+4]) {
				return true
			}
		}
	}

	return false
}

func suspiciousCharacterPatterns(rawURL string) []string {
	var patterns []string
	if strings.Contains(rawURL, "--") {
		patterns = append(patterns, "multiple_hyphens")
	}
	hasCyrillic := strings.ContainsFunc(rawURL, func(r rune) bool { return r >= 'а' && r <= 'я' })
	hasLatin := strings.ContainsFunc(rawURL, func(r rune) bool { return r >= 'a' && r <= 'z' })
	if hasCyrillic && hasLatin {
		patterns = append(patterns, "mixed_scripts")
	}
	if strings.ContainsFunc(rawURL, func(r rune) bool { return r > 127 }) {
		patterns = append(patterns, "unicode_chars")
	}
	if strings.Count(rawURL, ".") > 8 {
		patterns = append(patterns, "excessive_dots")
	}

	return patterns
}

func homoglyphsIn(hostname string) []string {
	var found []string
	for latin, variants := range homoglyphVariants {
		for _, variant := range variants {
			if strings.ContainsRune(hostname, variant) {
				found = append(found, fmt.Sprintf("%c->%c", latin, variant))
			}
		}
	}

	return found
}
