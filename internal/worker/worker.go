// Package worker runs the River consumers that drain the scan job queue and
// drive the verdict pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wbscanner/internal/pipeline"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap/exp/zapslog"
)

// Options configure the queue consumers.
type Options struct {
	// MaxWorkers caps how many scan jobs run concurrently.
	MaxWorkers int
	// JobTimeout bounds one full pipeline run for a single job.
	JobTimeout time.Duration
	// MaxAttempts is the number of processing attempts before pending scans
	// are marked failed.
	MaxAttempts int
}

// Start registers the verdict worker and starts the River client.
func Start(ctx context.Context,
	dbPool *pgxpool.Pool,
	pipe pipeline.Pipeline,
	strg storage.Storage,
	opts Options) (*river.Client[pgx.Tx], error) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewVerdictWorker(pipe, strg, opts))

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.MaxWorkers},
		},
		Workers: workers,
		Logger:  slog.New(zapslog.NewHandler(logger.Get(ctx).Core())),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create river queue client: %w", err)
	}

	if err := riverClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("could not start river queue client: %w", err)
	}

	return riverClient, nil
}
