package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"wbscanner/internal/api"
	"wbscanner/internal/config"
	"wbscanner/internal/pipeline"
	"wbscanner/internal/worker"
	"wbscanner/pkg/cache"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/storage/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cachePurgeInterval is how often expired database cache entries are dropped.
const cachePurgeInterval = time.Hour

func setupServer(ctx context.Context, cfg *config.Config, deps api.Deps) func(ctx context.Context) {
	server := api.NewServer(deps, api.NewOptions(cfg))

	go func() {
		logger.Info(ctx, "starting webserver...")
		if err := server.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "could not start webserver", zap.Error(err))
			}
		}
	}()

	return func(ctx context.Context) {
		logger.Info(ctx, "stopping webserver...")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(ctx, "could not stop webserver", zap.Error(err))
		}
	}
}

func setupWorkers(ctx context.Context,
	cfg *config.Config,
	strg *postgres.PgSQL,
	pipe pipeline.Pipeline) func(ctx context.Context) {
	riverClient, err := worker.Start(ctx, strg.Pool, pipe, strg, worker.Options{
		MaxWorkers:  cfg.Scanner.WorkerCount,
		JobTimeout:  cfg.Scanner.JobTimeout,
		MaxAttempts: cfg.Scanner.MaxAttempts,
	})
	if err != nil {
		logger.Fatal(ctx, "could not start workers", zap.Error(err))
	}

	return func(ctx context.Context) {
		logger.Info(ctx, "stopping workers...")
		if err := riverClient.Stop(ctx); err != nil {
			logger.Error(ctx, "could not stop workers", zap.Error(err))
		}
	}
}

// runCachePurge periodically removes expired cache entries. Purging is pure
// maintenance; reads already treat expired entries as misses.
func runCachePurge(ctx context.Context, strg *postgres.PgSQL) {
	ticker := time.NewTicker(cachePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := strg.PurgeExpiredCacheEntries(ctx)
			if err != nil {
				logger.Warn(ctx, "could not purge expired cache entries", zap.Error(err))

				continue
			}
			if purged > 0 {
				logger.Debug(ctx, "purged expired cache entries", zap.Int64("count", purged))
			}
		}
	}
}

func scanCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Starts API server and background workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

			strg, closeStrg := getPostgres(ctx, cfg)
			defer closeStrg()

			pipe := buildPipeline(cfg, strg, cache.NewStore(strg))

			stopWorkers := setupWorkers(ctx, cfg, strg, pipe)
			stopWebserver := setupServer(ctx, cfg, api.Deps{Pipeline: pipe, Storage: strg})

			go runCachePurge(ctx, strg)

			// wait for interrupt
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
			defer cancel()

			stopWebserver(shutdownCtx)
			stopWorkers(shutdownCtx)
		},
	}

	return cmd
}
