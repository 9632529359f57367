package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/hhelloe/llm-infra-learning/internal/bench"
	"github.com/hhelloe/llm-infra-learning/internal/inference"
)

func newBenchCmd() *cobra.Command {
	params := bench.DefaultParams()
	var maxWaitMs int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run one in-process load test and print the summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if maxWaitMs <= 0 {
				maxWaitMs = cfg.Batching.MaxWaitMs
			}
			harness := bench.NewHarness(inference.NewMockEngine(logger), cfg.Benchmark,
				bench.WithLogger(logger),
				bench.WithMaxWait(func() int { return maxWaitMs }),
			)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := harness.Run(ctx, params)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&params.BatchSize, "batch-size", params.BatchSize, "batch size for the benchmark scheduler")
	flags.IntVar(&params.NumRequests, "num-requests", params.NumRequests, "number of requests to submit")
	flags.StringVar(&params.Prompt, "prompt", params.Prompt, "prompt sent with every request")
	flags.IntVar(&params.MaxNewTokens, "max-new-tokens", params.MaxNewTokens, "tokens generated per request")
	flags.IntVar(&params.LatencyMs, "latency-ms", params.LatencyMs, "simulated latency per request")
	flags.IntVar(&maxWaitMs, "max-wait-ms", 0, "batch window (default: batching.max_wait_ms)")
	return cmd
}
