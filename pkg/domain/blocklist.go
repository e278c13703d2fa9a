package domain

// ThreatMatch is a single match returned by the primary threat source
// (Google Safe Browsing threatMatches:find).
type ThreatMatch struct {
	ThreatType      string `json:"threatType"`
	PlatformType    string `json:"platformType,omitempty"`
	ThreatEntryType string `json:"threatEntryType,omitempty"`
	URL             string `json:"url,omitempty"`
}

// GsbFetchResult is the outcome of the primary blocklist lookup, including
// enough metadata (latency, cache provenance, error) for the redundancy policy
// to decide whether a second opinion is needed.
type GsbFetchResult struct {
	Matches    []ThreatMatch `json:"matches"`
	FromCache  bool          `json:"fromCache"`
	DurationMs int64         `json:"durationMs"`
	// Err is the primary lookup failure, if any. A failed primary never fails
	// the overall check; it only influences the secondary decision.
	Err error `json:"-"`
}

// Hit reports whether the primary source returned at least one match.
func (g GsbFetchResult) Hit() bool { return len(g.Matches) > 0 }

// PhishtankResult is the secondary source's view of a URL.
type PhishtankResult struct {
	InDatabase bool   `json:"inDatabase"`
	Verified   bool   `json:"verified"`
	PhishID    int64  `json:"phishId,omitempty"`
	DetailsURL string `json:"detailsUrl,omitempty"`
}

// BlocklistCheckResult merges the primary lookup and the conditional
// secondary lookup.
//
// Invariant: PhishtankResult is non-nil only when PhishtankNeeded was true and
// the secondary source was enabled and reachable.
type BlocklistCheckResult struct {
	GsbResult       GsbFetchResult   `json:"gsbResult"`
	PhishtankResult *PhishtankResult `json:"phishtankResult"`
	PhishtankNeeded bool             `json:"phishtankNeeded"`
	// PhishtankErr records a secondary lookup failure; GsbResult stands on its own.
	PhishtankErr error `json:"-"`
}
