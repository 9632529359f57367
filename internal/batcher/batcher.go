package batcher

import (
	"context"
	"time"

	"github.com/hhelloe/llm-infra-learning/internal/batcher/strategies"
	"github.com/hhelloe/llm-infra-learning/internal/config"
	"github.com/hhelloe/llm-infra-learning/internal/models"
)

type Batcher interface {
	Submit(ctx context.Context, req *models.InferenceRequest) (*models.PendingRequest, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	QueueDepth() int
	Metrics() BatcherMetrics
}

type BatcherMetrics struct {
	QueueDepth     int     `json:"queue_depth"`
	BatchesFormed  int64   `json:"batches_formed"`
	RequestsQueued int64   `json:"requests_queued"`
	RequestsFailed int64   `json:"requests_failed"`
	AvgBatchSize   float64 `json:"avg_batch_size"`
}

type BatcherConfig struct {
	Strategy                string
	BatchSize               int
	MaxWaitMs               int
	MinWaitMs               int
	QueueDepthLowThreshold  int
	QueueDepthHighThreshold int
	TargetP99Ms             float64
	Workers                 int
	StatsCapacity           int
	QPSWindow               time.Duration
}

func NewBatcherConfig(cfg config.BatchingConfig, m config.MetricsConfig) BatcherConfig {
	return BatcherConfig{
		Strategy:                cfg.Strategy,
		BatchSize:               cfg.BatchSize,
		MaxWaitMs:               cfg.MaxWaitMs,
		MinWaitMs:               cfg.MinWaitMs,
		QueueDepthLowThreshold:  cfg.QueueDepthLowThreshold,
		QueueDepthHighThreshold: cfg.QueueDepthHighThreshold,
		TargetP99Ms:             cfg.TargetP99Ms,
		Workers:                 cfg.Workers,
		StatsCapacity:           m.WindowSize,
		QPSWindow:               m.QPSWindow,
	}
}

func (c BatcherConfig) StrategyConfig() strategies.StrategyConfig {
	return strategies.StrategyConfig{
		Name:                    c.Strategy,
		MinWaitMs:               c.MinWaitMs,
		QueueDepthLowThreshold:  c.QueueDepthLowThreshold,
		QueueDepthHighThreshold: c.QueueDepthHighThreshold,
		TargetP99Ms:             c.TargetP99Ms,
	}
}
