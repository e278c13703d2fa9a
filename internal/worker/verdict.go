package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wbscanner/internal/pipeline"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/storage"

	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

// rateLimitSnooze is how long a job sleeps when an upstream source is out of
// quota. The reservoirs pace normal traffic; this only covers hard 429s that
// slipped past them.
const rateLimitSnooze = time.Minute

// VerdictWorker is the River worker consuming URL scan jobs. Each job runs
// the verdict pipeline to completion; the pipeline fans out internally, the
// worker itself stays sequential per job.
//
// Error handling: rate-limited runs are snoozed rather than burned as retry
// attempts. Every other failure is recorded against the pending scans (with
// the attempt counter crossing into Failed at the configured threshold) and
// returned to River for its own backoff schedule.
type VerdictWorker struct {
	river.WorkerDefaults[pipeline.JobArgs]

	pipeline    pipeline.Pipeline
	storage     storage.Storage
	jobTimeout  time.Duration
	maxAttempts int
}

// NewVerdictWorker constructs a VerdictWorker driving the given pipeline.
func NewVerdictWorker(pipe pipeline.Pipeline, strg storage.Storage, opts Options) *VerdictWorker {
	return &VerdictWorker{
		pipeline:    pipe,
		storage:     strg,
		jobTimeout:  opts.JobTimeout,
		maxAttempts: opts.MaxAttempts,
	}
}

// Timeout bounds each job run; River cancels the context when it elapses.
func (w *VerdictWorker) Timeout(*river.Job[pipeline.JobArgs]) time.Duration {
	if w.jobTimeout <= 0 {
		return time.Minute
	}

	return w.jobTimeout
}

// Work executes a single scan job.
func (w *VerdictWorker) Work(ctx context.Context, job *river.Job[pipeline.JobArgs]) error {
	ctx = logger.WithFields(ctx,
		zap.Int64("jobID", job.ID),
		zap.String("urlHash", job.Args.URLHash))

	payload, err := w.pipeline.Process(ctx, job.Args)
	if err != nil {
		logger.Error(ctx, "error processing scan job", zap.Error(err))

		if errors.Is(err, serrors.ErrRateLimited) {
			// don't count quota exhaustion against the scan's attempts
			return river.JobSnooze(rateLimitSnooze) //nolint: wrapcheck
		}

		w.recordFailure(ctx, job.Args.URLHash, err)

		return fmt.Errorf("could not process scan job: %w", err)
	}

	if payload == nil {
		logger.Debug(ctx, "no pending scans for job, nothing to do")

		return nil
	}

	logger.Info(ctx, "scan completed",
		zap.String("level", string(payload.Verdict.Level)),
		zap.Float64("score", payload.Verdict.Score))

	return nil
}

// recordFailure bumps the attempt counter on every pending scan for the hash
// and flips them to Failed once the attempt budget is exhausted. Recording is
// best-effort; River owns the retry schedule either way.
func (w *VerdictWorker) recordFailure(ctx context.Context, urlHash string, cause error) {
	msg := cause.Error()
	if err := w.storage.UpdatePendingScansByHash(ctx, urlHash, storage.ScanUpdates{
		Status:      domain.ScanStatusFailed,
		LastError:   &msg,
		MaxAttempts: w.maxAttempts,
	}); err != nil {
		logger.Warn(ctx, "could not record scan failure", zap.Error(err))
	}
}
