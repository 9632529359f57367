package batcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/batcher/queue"
	"github.com/hhelloe/llm-infra-learning/internal/batcher/strategies"
	"github.com/hhelloe/llm-infra-learning/internal/models"
)

// BatchFormer drains the admission queue one batch at a time.
//
// A cycle blocks without a timeout for its first request, loads the config
// snapshot once, and fixes deadline = first.EnqueuedAt + window. It then
// collects until the batch holds BatchSize requests or the deadline passes.
// Later arrivals never move the deadline. A deadline that has already
// passed closes the batch with just the first request, even if more are
// queued.
type BatchFormer struct {
	queue          *queue.AdmissionQueue
	controller     *ConfigController
	strategy       strategies.Strategy
	latencyMetrics func() *strategies.StrategyMetrics
	logger         *zap.Logger
}

func NewBatchFormer(q *queue.AdmissionQueue, controller *ConfigController, strategy strategies.Strategy, logger *zap.Logger) *BatchFormer {
	if strategy == nil {
		strategy = strategies.NewFixedStrategy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchFormer{
		queue:      q,
		controller: controller,
		strategy:   strategy,
		logger:     logger,
	}
}

// Form returns the next closed batch. It only fails when no request could be
// taken at all; a context ending mid-collection still yields the partial
// batch so every member gets resolved downstream.
func (f *BatchFormer) Form(ctx context.Context) (*models.Batch, error) {
	first, err := f.queue.Pop(ctx)
	if err != nil {
		return nil, err
	}

	snap := f.controller.Snapshot()
	window := f.window(snap)
	deadline := first.EnqueuedAt.Add(window)

	requests := make([]*models.PendingRequest, 1, snap.BatchSize)
	requests[0] = first
	for len(requests) < snap.BatchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		next, ok, err := f.queue.PopWithin(ctx, remaining)
		if err != nil || !ok {
			break
		}
		requests = append(requests, next)
	}

	batch := models.NewBatch(requests, f.strategy.Name())
	batch.ConfigVersion = snap.Version

	f.logger.Debug("batch closed",
		zap.String("batch_id", batch.ID),
		zap.Int("size", batch.Size()),
		zap.Int("batch_size", snap.BatchSize),
		zap.Int("max_latency_ms", batch.MaxLatencyMs()),
		zap.Duration("window", window),
		zap.Float64("first_age_ms", first.AgeMs()),
		zap.Uint64("config_version", snap.Version),
	)
	return batch, nil
}

func (f *BatchFormer) window(snap SchedulerConfig) time.Duration {
	var metrics *strategies.StrategyMetrics
	if f.latencyMetrics != nil {
		metrics = f.latencyMetrics()
	}
	return f.strategy.CalculateWindow(snap.MaxWait(), f.queue.Depth(), metrics)
}

func (f *BatchFormer) StrategyName() string {
	return f.strategy.Name()
}
