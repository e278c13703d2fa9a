package main

import (
	"context"
	"encoding/json"
	"fmt"

	"wbscanner/internal/config"
	"wbscanner/pkg/cache"
	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/verdict"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// checkCommand constructs the 'check' subcommand: a one-shot verdict for a
// single URL, printed as JSON. It runs the same resolution, blocklist and
// heuristic stages as the background workers, with an in-memory cache and no
// database.
func checkCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [url]",
		Short: "Resolves and classifies a single URL without persisting anything",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			comps := buildComponents(cfg, cache.NewMemory())

			target, err := comps.hasher.Target(args[0])
			if err != nil {
				logger.Fatal(ctx, "invalid URL", zap.Error(err))
			}

			resolution := comps.resolver.Resolve(ctx, target.NormalizedURL)
			blResult := comps.checker.Check(ctx, resolution.FinalURL, target.URLHash)
			heurResult := comps.scorer.Score(ctx, resolution)

			payload := domain.VerdictPayload{
				URLHash:    target.URLHash,
				Verdict:    verdict.Compose(blResult, heurResult),
				Resolution: resolution,
			}

			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				logger.Fatal(ctx, "could not marshal verdict", zap.Error(err))
			}
			fmt.Println(string(out))
		},
	}

	return cmd
}
