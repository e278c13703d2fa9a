package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScanID uniquely identifies a scan request.
// It wraps uuid.UUID to provide type safety at the domain layer.
type ScanID uuid.UUID

// ScanStatus represents the lifecycle state of a scan.
type ScanStatus string

const (
	// ScanStatusPending indicates the scan has been enqueued but not processed yet.
	ScanStatusPending ScanStatus = "PENDING"
	// ScanStatusCompleted indicates the scan finished and a verdict is available.
	ScanStatusCompleted ScanStatus = "COMPLETED"
	// ScanStatusFailed indicates the scan ended with an error; see LastError and Attempts for details.
	ScanStatusFailed ScanStatus = "FAILED"
)

// ScanTarget is the immutable input of one scan: the URL as received, its
// canonical form and the keyed hash used everywhere as the cache/storage key.
// Raw URLs never appear in cache or index keys, only the hash does.
type ScanTarget struct {
	// InputURL is the URL exactly as extracted from the message.
	InputURL string `json:"inputUrl"`
	// NormalizedURL is the canonical form produced by urlx.Normalize.
	NormalizedURL string `json:"normalizedUrl"`
	// URLHash is the hex HMAC-SHA256 of the namespaced normalized URL.
	URLHash string `json:"urlHash"`
}

// Scan represents a single scan request and its current state as persisted.
type Scan struct {
	// ID is the unique identifier of the scan.
	ID ScanID `json:"id"`

	// URLHash is the keyed hash of the normalized URL; the stable correlation
	// key handed to the delivery collaborator.
	URLHash string `json:"urlHash"`
	// URL is the normalized target URL.
	URL string `json:"url"`
	// Status is the current lifecycle state of the scan.
	Status ScanStatus `json:"status"`

	// Verdict is the latest known verdict, zero-valued while pending.
	Verdict Verdict `json:"verdict"`
	// Resolution is the redirect-resolution outcome for this scan.
	Resolution ResolutionResult `json:"resolution"`

	// Attempts is the number of times the system has tried to process this scan.
	Attempts uint `json:"attempts"`
	// LastError stores the most recent processing error message, if any.
	LastError string `json:"-"`

	// CreatedAt is the time when the scan request was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is the time when the scan was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
	// DeletedAt marks when the scan was soft-deleted; zero value means not deleted.
	DeletedAt time.Time `json:"-"`
}

// VerdictPayload is what the pipeline hands to the delivery collaborator once
// a scan completes. URLHash lets delivery tracking correlate acknowledgements
// back to this scan.
type VerdictPayload struct {
	URLHash    string           `json:"urlHash"`
	Verdict    Verdict          `json:"verdict"`
	Resolution ResolutionResult `json:"resolution"`
	Artifacts  *ArtifactPaths   `json:"artifacts,omitempty"`
}
