package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hhelloe/llm-infra-learning/internal/batcher"
	"github.com/hhelloe/llm-infra-learning/internal/bench"
	"github.com/hhelloe/llm-infra-learning/internal/inference"
	"github.com/hhelloe/llm-infra-learning/internal/metrics"
	"github.com/hhelloe/llm-infra-learning/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP batching service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := inference.NewMockEngine(logger)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	sched, err := batcher.NewScheduler(
		batcher.NewBatcherConfig(cfg.Batching, cfg.Metrics),
		engine,
		batcher.WithLogger(logger),
		batcher.WithCollector(collector),
	)
	if err != nil {
		return err
	}
	harness := bench.NewHarness(engine, cfg.Benchmark,
		bench.WithLogger(logger),
		bench.WithMaxWait(func() int { return sched.Config().MaxWaitMs }),
	)

	router := server.NewRouter(server.RouterConfig{
		Handler: server.NewHandler(sched, harness, logger),
		Metrics: collector.Handler(),
		Logger:  logger,
	})
	srv := server.New(cfg.Server, router, logger)

	if err := sched.Start(context.Background()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler did not drain before shutdown timeout", zap.Error(err))
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
