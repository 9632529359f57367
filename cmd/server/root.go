package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/config"
	"github.com/hhelloe/llm-infra-learning/internal/logging"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inference-batcher",
		Short:         "Dynamic request batching in front of a mock inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ./config/config.yaml)")

	root.AddCommand(newServeCmd(), newBenchCmd())
	return root
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
