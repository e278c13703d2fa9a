package domain

// ResolutionProvider identifies which path produced the final URL of a
// redirect resolution.
type ResolutionProvider string

const (
	// ProviderExpansionService means the dedicated link-expansion service resolved the URL.
	ProviderExpansionService ResolutionProvider = "expansion-service"
	// ProviderDirect means hop-by-hop direct resolution resolved the URL.
	ProviderDirect ResolutionProvider = "direct"
	// ProviderOriginal means no expansion happened; the final URL is the input URL.
	ProviderOriginal ResolutionProvider = "original"
)

// FailureReason classifies why an expansion attempt did not produce an
// expanded URL. Set exactly when Expanded is false.
type FailureReason string

const (
	// ReasonSSRFBlocked means a hop resolved to a private, loopback or link-local address.
	ReasonSSRFBlocked FailureReason = "ssrf-blocked"
	// ReasonTimeout means the expansion attempt exceeded its per-call timeout.
	ReasonTimeout FailureReason = "timeout"
	// ReasonMaxContentLength means a response exceeded the configured size cap.
	ReasonMaxContentLength FailureReason = "max-content-length"
	// ReasonExpansionFailed means every expansion path failed for another reason.
	ReasonExpansionFailed FailureReason = "expansion-failed"
)

// ResolutionResult is the closed outcome of following a URL through its
// redirect chain. All failure modes are represented here; resolution never
// returns an error to the caller.
//
// Invariants: when Expanded is false, FinalURL equals the input URL and
// Reason is set. Chain is truncated at the last safe hop and never ends in a
// URL that was rejected by the SSRF guard.
type ResolutionResult struct {
	FinalURL string             `json:"finalUrl"`
	Chain    []string           `json:"chain"`
	Provider ResolutionProvider `json:"provider"`
	// WasShortened reports whether the input host is a known URL shortener.
	WasShortened bool          `json:"wasShortened"`
	Expanded     bool          `json:"expanded"`
	Reason       FailureReason `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// RedirectCount returns the number of redirect hops that were followed.
func (r ResolutionResult) RedirectCount() int {
	if len(r.Chain) == 0 {
		return 0
	}

	return len(r.Chain) - 1
}
