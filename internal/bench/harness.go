// Package bench drives synthetic load through an isolated scheduler and
// summarizes the per-request latencies it produced.
package bench

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hhelloe/llm-infra-learning/internal/batcher"
	"github.com/hhelloe/llm-infra-learning/internal/config"
	"github.com/hhelloe/llm-infra-learning/internal/models"
	"github.com/hhelloe/llm-infra-learning/internal/stats"
)

const (
	DefaultBatchSize   = 4
	DefaultNumRequests = 16
	DefaultPrompt      = "Tell me about Go"
	defaultMaxWaitMs   = 50
	stopTimeout        = time.Second
)

type Params struct {
	BatchSize    int    `json:"batch_size"`
	NumRequests  int    `json:"num_requests"`
	Prompt       string `json:"prompt"`
	MaxNewTokens int    `json:"max_new_tokens"`
	LatencyMs    int    `json:"latency_ms"`
}

func DefaultParams() Params {
	return Params{
		BatchSize:    DefaultBatchSize,
		NumRequests:  DefaultNumRequests,
		Prompt:       DefaultPrompt,
		MaxNewTokens: models.DefaultMaxNewTokens,
		LatencyMs:    models.DefaultLatencyMs,
	}
}

type Result struct {
	BatchSize                int     `json:"batch_size"`
	NumRequests              int     `json:"num_requests"`
	TotalRequests            int     `json:"total_requests"`
	Successful               int     `json:"successful"`
	Failed                   int     `json:"failed"`
	AvgServerLatencyMs       float64 `json:"avg_server_latency_ms"`
	MinServerLatencyMs       int64   `json:"min_server_latency_ms"`
	MaxServerLatencyMs       int64   `json:"max_server_latency_ms"`
	P50ServerLatencyMs       int64   `json:"p50_server_latency_ms"`
	P90ServerLatencyMs       int64   `json:"p90_server_latency_ms"`
	P99ServerLatencyMs       int64   `json:"p99_server_latency_ms"`
	TotalTimeMs              int64   `json:"total_time_ms"`
	ThroughputRequestsPerSec float64 `json:"throughput_requests_per_sec"`
	BatchesFormed            int64   `json:"batches_formed"`
}

// Harness runs each benchmark on a private Scheduler that shares only the
// engine with live traffic. The live config and stats are never touched.
type Harness struct {
	engine    batcher.Engine
	cfg       config.BenchmarkConfig
	maxWaitMs func() int
	logger    *zap.Logger
}

type Option func(*Harness)

// WithMaxWait makes each run use the window returned by fn at run start.
func WithMaxWait(fn func() int) Option {
	return func(h *Harness) { h.maxWaitMs = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

func NewHarness(engine batcher.Engine, cfg config.BenchmarkConfig, opts ...Option) *Harness {
	h := &Harness{
		engine:    engine,
		cfg:       cfg,
		maxWaitMs: func() int { return defaultMaxWaitMs },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "bench"))
	return h
}

func (h *Harness) validate(p Params) (*models.InferenceRequest, error) {
	if p.NumRequests <= 0 {
		return nil, models.ErrEmptyBatch
	}
	if p.NumRequests > h.cfg.MaxRequests {
		return nil, fmt.Errorf("%w: num_requests must be in [1, %d], got %d", models.ErrInvalidRequest, h.cfg.MaxRequests, p.NumRequests)
	}
	if p.BatchSize <= 0 || p.BatchSize > h.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch_size must be in [1, %d], got %d", models.ErrInvalidConfig, h.cfg.MaxBatchSize, p.BatchSize)
	}
	req := models.NewInferenceRequest(p.Prompt, p.MaxNewTokens, p.LatencyMs, h.cfg.RequestTimeoutMs)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// newScheduler builds the private scheduler for one run. Its latency samples
// go to latency only.
func (h *Harness) newScheduler(batchSize int, latency *stats.LatencyStats) (batcher.Batcher, error) {
	sched, err := batcher.NewScheduler(batcher.BatcherConfig{
		BatchSize: batchSize,
		MaxWaitMs: h.maxWaitMs(),
		Workers:   1,
	}, h.engine, batcher.WithLogger(h.logger), batcher.WithStats(latency))
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Run submits p.NumRequests copies of the same request without throttling,
// waits for every slot up to the configured result timeout, and summarizes.
// Requests still unresolved at the timeout count as failures.
func (h *Harness) Run(ctx context.Context, p Params) (*Result, error) {
	template, err := h.validate(p)
	if err != nil {
		return nil, err
	}

	latency := stats.NewLatencyStats(p.NumRequests * 2)
	sched, err := h.newScheduler(p.BatchSize, latency)
	if err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			h.logger.Warn("benchmark scheduler stop", zap.Error(err))
		}
	}()

	start := time.Now()
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}

	pending := make([]*models.PendingRequest, 0, p.NumRequests)
	var failed int64
	for i := 0; i < p.NumRequests; i++ {
		req := *template
		handle, err := sched.Submit(ctx, &req)
		if err != nil {
			failed++
			continue
		}
		pending = append(pending, handle)
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.cfg.ResultTimeout)
	defer cancel()
	var g errgroup.Group
	for _, handle := range pending {
		handle := handle
		g.Go(func() error {
			if _, err := handle.Slot.Wait(waitCtx); err != nil {
				atomic.AddInt64(&failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	totalMs := time.Since(start).Milliseconds()

	latencies, _ := latency.Snapshot()
	summary := stats.Summarize(latencies)
	throughput := 0.0
	if totalMs > 0 {
		throughput = stats.Round2(float64(p.NumRequests) / (float64(totalMs) / 1000))
	}

	result := &Result{
		BatchSize:                p.BatchSize,
		NumRequests:              p.NumRequests,
		TotalRequests:            p.NumRequests,
		Successful:               p.NumRequests - int(failed),
		Failed:                   int(failed),
		AvgServerLatencyMs:       summary.AvgMs,
		MinServerLatencyMs:       summary.MinMs,
		MaxServerLatencyMs:       summary.MaxMs,
		P50ServerLatencyMs:       summary.P50Ms,
		P90ServerLatencyMs:       summary.P90Ms,
		P99ServerLatencyMs:       summary.P99Ms,
		TotalTimeMs:              totalMs,
		ThroughputRequestsPerSec: throughput,
		BatchesFormed:            sched.Metrics().BatchesFormed,
	}
	h.logger.Info("benchmark finished",
		zap.Int("batch_size", result.BatchSize),
		zap.Int("num_requests", result.NumRequests),
		zap.Int("failed", result.Failed),
		zap.Int64("batches_formed", result.BatchesFormed),
		zap.Int64("total_time_ms", result.TotalTimeMs),
	)
	return result, nil
}
