package heuristics

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"wbscanner/pkg/urlx"
)

const (
	openphishFile = "openphish.txt"
	urlhausFile   = "urlhaus.txt"
	sansFile      = "sans-domains.txt"

	// defaultSansScoreMin is the minimum feed-reported risk score a SANS
	// record needs to be treated as a suspicious domain.
	defaultSansScoreMin = 3
)

// FeedSignals are the local blocklist-feed memberships of a URL.
type FeedSignals struct {
	OpenphishListed        bool
	URLhausListed          bool
	SuspiciousDomainListed bool
}

type feedCache struct {
	mtime   int64
	entries map[string]struct{}
}

// Feeds reads threat-intel files dropped into a local directory and answers
// membership queries. Each file is reparsed only when its mtime changes, so
// an external feed updater can atomically replace the files and the next
// lookup picks them up. All methods are safe for concurrent use.
type Feeds struct {
	dir          string
	sansScoreMin int

	mu        sync.Mutex
	openphish *feedCache
	urlhaus   *feedCache
	sans      *feedCache
}

// NewFeeds creates a Feeds rooted at dir. An empty dir disables all feeds.
func NewFeeds(dir string) *Feeds {
	return &Feeds{dir: dir, sansScoreMin: defaultSansScoreMin}
}

// Lookup returns the feed memberships for an already-normalized final URL.
// Unreadable or missing feed files contribute no signal.
func (f *Feeds) Lookup(finalURL string) FeedSignals {
	if f == nil || f.dir == "" {
		return FeedSignals{}
	}

	normalized, err := urlx.Normalize(finalURL)
	if err != nil {
		normalized = finalURL
	}
	hostname := ""
	if u, err := url.Parse(normalized); err == nil {
		hostname = strings.ToLower(u.Hostname())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var signals FeedSignals

	f.openphish = f.load(f.openphish, openphishFile, parseURLFeed)
	if f.openphish != nil {
		_, signals.OpenphishListed = f.openphish.entries[normalized]
	}

	f.urlhaus = f.load(f.urlhaus, urlhausFile, parseURLFeed)
	if f.urlhaus != nil {
		_, signals.URLhausListed = f.urlhaus.entries[normalized]
	}

	f.sans = f.load(f.sans, sansFile, f.parseSansFeed)
	if f.sans != nil && hostname != "" {
		_, signals.SuspiciousDomainListed = f.sans.entries[hostname]
	}

	return signals
}

// load refreshes a cached feed if the backing file changed. Read errors keep
// the previous cache so a half-written file never drops the feed.
func (f *Feeds) load(cache *feedCache, name string, parse func(raw string) map[string]struct{}) *feedCache {
	path := filepath.Join(f.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return cache
	}
	mtime := info.ModTime().UnixNano()
	if cache != nil && cache.mtime == mtime {
		return cache
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cache
	}

	return &feedCache{mtime: mtime, entries: parse(string(raw))}
}

// parseURLFeed parses one-URL-per-line feeds (openphish, urlhaus), keyed by
// normalized URL so lookups match regardless of incidental formatting.
func parseURLFeed(raw string) map[string]struct{} {
	entries := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "http") {
			continue
		}
		normalized, err := urlx.Normalize(line)
		if err != nil {
			continue
		}
		entries[normalized] = struct{}{}
	}

	return entries
}

type sansRecord struct {
	DomainName string      `json:"domainname"`
	Domain     string      `json:"domain"`
	Name       string      `json:"name"`
	FQDN       string      `json:"fqdn"`
	Host       string      `json:"host"`
	Score      json.Number `json:"score"`
	Risk       json.Number `json:"risk"`
	RiskScore  json.Number `json:"risk_score"`
}

func (r sansRecord) domain() string {
	for _, candidate := range []string{r.DomainName, r.Domain, r.Name, r.FQDN, r.Host} {
		if d := normalizeDomain(candidate); d != "" {
			return d
		}
	}

	return ""
}

func (r sansRecord) score() int {
	for _, n := range []json.Number{r.Score, r.Risk, r.RiskScore} {
		if n == "" {
			continue
		}
		if v, err := n.Float64(); err == nil {
			return int(v)
		}
	}

	return 0
}

// parseSansFeed accepts the SANS suspicious-domain feed as a JSON array of
// records, newline-delimited JSON records, or a plain domain list. Records
// below the minimum risk score are skipped; plain domains are kept as-is.
func (f *Feeds) parseSansFeed(raw string) map[string]struct{} {
	trimmed := strings.TrimSpace(raw)
	entries := make(map[string]struct{})
	if trimmed == "" {
		return entries
	}

	var records []sansRecord
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return entries
		}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "{") {
				var record sansRecord
				if err := json.Unmarshal([]byte(line), &record); err != nil {
					continue
				}
				records = append(records, record)

				continue
			}
			if d := normalizeDomain(line); d != "" {
				records = append(records, sansRecord{Domain: d, Score: json.Number("15")})
			}
		}
	}

	for _, record := range records {
		if record.score() < f.sansScoreMin {
			continue
		}
		if d := record.domain(); d != "" {
			entries[d] = struct{}{}
		}
	}

	return entries
}

func normalizeDomain(input string) string {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" || !strings.Contains(trimmed, ".") {
		return ""
	}

	return strings.TrimRight(trimmed, ".")
}
