package domain

// ArtifactType distinguishes the auxiliary evidence kinds fetched for a scan.
type ArtifactType string

const (
	ArtifactScreenshot ArtifactType = "screenshot"
	ArtifactDOM        ArtifactType = "dom"
)

// ArtifactCandidate is a possible evidence URL extracted from a scan task
// payload.
//
// Invariant: a candidate whose resolved host is not the pinned trusted host
// (after relative-path resolution against the trusted base) is marked Invalid
// and is never fetched.
type ArtifactCandidate struct {
	Type    ArtifactType `json:"type"`
	URL     string       `json:"url"`
	Invalid bool         `json:"invalid"`
}

// ArtifactPaths points at evidence files stored on local disk. Either path
// may be empty; screenshot and DOM fetches are independent.
type ArtifactPaths struct {
	ScreenshotPath string `json:"screenshotPath,omitempty"`
	DOMPath        string `json:"domPath,omitempty"`
}
