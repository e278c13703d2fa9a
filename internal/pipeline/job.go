package pipeline

import (
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"wbscanner/pkg/artifacts"
)

// JobArgs contains the arguments for a scan job submitted to River.
// URLHash is the unique key: River enforces one live job per hash, so any
// number of chat messages sharing a URL collapse onto one pipeline run.
type JobArgs struct {
	// URLHash is the keyed hash of the normalized URL.
	URLHash string `json:"urlHash" river:"unique"`
	// URL is the normalized target URL.
	URL string `json:"url"`
	// Priority orders jobs within the queue; lower runs first.
	Priority int `json:"priority,omitempty"`
	// Artifacts optionally carries the provider task payload whose candidate
	// URLs are validated and fetched after the verdict is composed. Enqueue
	// never sets it; it is populated by external producers (the scan
	// provider's callback) inserting jobs through River directly, which is
	// why it is part of the wire shape rather than a Process parameter.
	Artifacts *artifacts.TaskPayload `json:"artifacts,omitempty"`
	// ScanID is the provider scan identifier the artifact file names derive
	// from. Required when Artifacts is set, and set by the same external
	// producers.
	ScanID string `json:"scanId,omitempty"`

	// maxAttempts configures the maximum number of times River should retry the job.
	maxAttempts int
	// uniqueJobPeriod defines the lookback window during which a job with the
	// same url hash is considered a duplicate across the specified states.
	uniqueJobPeriod time.Duration
}

// Kind returns the River job kind used to register and dispatch the scan worker.
func (args JobArgs) Kind() string { return "URLVerdictJob" }

// InsertOpts returns the River options that control how the job is enqueued,
// including the maximum retry attempts and uniqueness constraints to prevent
// duplicate jobs for the same url hash across multiple job states.
func (args JobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: args.maxAttempts,
		Priority:    args.Priority,
		// make sure we only have one job per url hash in any state
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: args.uniqueJobPeriod,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStateCompleted,
				rivertype.JobStatePending,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	}
}
