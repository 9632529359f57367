package batcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/batcher/queue"
	"github.com/hhelloe/llm-infra-learning/internal/batcher/strategies"
	"github.com/hhelloe/llm-infra-learning/internal/metrics"
	"github.com/hhelloe/llm-infra-learning/internal/models"
	"github.com/hhelloe/llm-infra-learning/internal/stats"
)

const defaultQPSWindow = 10 * time.Second

// Scheduler is the admission API in front of the batch pipeline. Each worker
// runs form -> execute -> dispatch strictly in sequence, so with one worker
// (the default) batch k+1 is not formed until batch k has been dispatched.
type Scheduler struct {
	cfg        BatcherConfig
	queue      *queue.AdmissionQueue
	controller *ConfigController
	former     *BatchFormer
	executor   *BatchExecutor
	dispatcher *ResultDispatcher
	stats      *stats.LatencyStats
	collector  *metrics.Collector
	logger     *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stoppedCh chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   int32
	stopping  int32

	batchesFormed  int64
	requestsQueued int64
	requestsFailed int64
	totalBatchSize int64
}

var _ Batcher = (*Scheduler)(nil)

type Option func(*schedulerOptions)

type schedulerOptions struct {
	logger    *zap.Logger
	collector *metrics.Collector
	strategy  strategies.Strategy
	stats     *stats.LatencyStats
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *schedulerOptions) { o.logger = logger }
}

func WithCollector(c *metrics.Collector) Option {
	return func(o *schedulerOptions) { o.collector = c }
}

// WithStrategy overrides the strategy named in BatcherConfig.
func WithStrategy(s strategies.Strategy) Option {
	return func(o *schedulerOptions) { o.strategy = s }
}

// WithStats routes latency samples into s instead of a scheduler-owned ring.
func WithStats(s *stats.LatencyStats) Option {
	return func(o *schedulerOptions) { o.stats = s }
}

func NewScheduler(cfg BatcherConfig, engine Engine, opts ...Option) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("batcher: inference engine is required")
	}
	o := schedulerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QPSWindow <= 0 {
		cfg.QPSWindow = defaultQPSWindow
	}

	controller, err := NewConfigController(cfg.BatchSize, cfg.MaxWaitMs)
	if err != nil {
		return nil, err
	}
	strategy := o.strategy
	if strategy == nil {
		strategy, err = strategies.New(cfg.StrategyConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrInvalidConfig, err)
		}
	}
	latency := o.stats
	if latency == nil {
		latency = stats.NewLatencyStats(cfg.StatsCapacity)
	}

	logger := o.logger.With(zap.String("component", "scheduler"))
	q := queue.NewAdmissionQueue()
	s := &Scheduler{
		cfg:        cfg,
		queue:      q,
		controller: controller,
		former:     NewBatchFormer(q, controller, strategy, logger.Named("former")),
		executor:   NewBatchExecutor(engine, logger.Named("executor")),
		dispatcher: NewResultDispatcher(latency, o.collector, logger.Named("dispatcher")),
		stats:      latency,
		collector:  o.collector,
		logger:     logger,
		stoppedCh:  make(chan struct{}),
	}
	if ma, ok := strategy.(strategies.MetricsAware); ok && ma.NeedsLatencyMetrics() {
		s.former.latencyMetrics = s.strategyMetrics
	}
	s.collector.SetConfig(cfg.BatchSize, cfg.MaxWaitMs)
	return s, nil
}

// Submit admits req without blocking and returns its pending handle. The
// caller decides how long to wait on the handle's slot.
func (s *Scheduler) Submit(ctx context.Context, req *models.InferenceRequest) (*models.PendingRequest, error) {
	if req == nil {
		return nil, models.ErrInvalidRequest
	}
	if atomic.LoadInt32(&s.stopping) == 1 {
		return nil, models.ErrShuttingDown
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pending := models.NewPendingRequest(req)
	if err := s.queue.Push(pending); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil, models.ErrShuttingDown
		}
		return nil, err
	}
	atomic.AddInt64(&s.requestsQueued, 1)
	s.collector.SetQueueDepth(s.queue.Depth())
	return pending, nil
}

// Infer submits req and waits for its result, bounded by req.TimeoutMs.
// Timing out abandons the wait only; the request stays in its batch.
func (s *Scheduler) Infer(ctx context.Context, req *models.InferenceRequest) (*models.InferResult, error) {
	pending, err := s.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout())
		defer cancel()
	}
	return pending.Slot.Wait(ctx)
}

type Outcome struct {
	Result *models.InferResult
	Err    error
}

// InferMany admits every request before waiting on any of them and returns
// outcomes in input order.
func (s *Scheduler) InferMany(ctx context.Context, reqs []*models.InferenceRequest) ([]Outcome, error) {
	if len(reqs) == 0 {
		return nil, models.ErrEmptyBatch
	}
	outcomes := make([]Outcome, len(reqs))
	pending := make([]*models.PendingRequest, len(reqs))
	for i, req := range reqs {
		p, err := s.Submit(ctx, req)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		pending[i] = p
	}

	var wg sync.WaitGroup
	for i, p := range pending {
		if p == nil {
			continue
		}
		wg.Add(1)
		go func(i int, p *models.PendingRequest) {
			defer wg.Done()
			waitCtx := ctx
			if p.Request.TimeoutMs > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(ctx, p.Request.Timeout())
				defer cancel()
			}
			outcomes[i].Result, outcomes[i].Err = p.Slot.Wait(waitCtx)
		}(i, p)
	}
	wg.Wait()
	return outcomes, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		atomic.StoreInt32(&s.started, 1)

		snap := s.controller.Snapshot()
		s.logger.Info("scheduler starting",
			zap.Int("workers", s.cfg.Workers),
			zap.String("strategy", s.former.StrategyName()),
			zap.Int("batch_size", snap.BatchSize),
			zap.Int("max_wait_ms", snap.MaxWaitMs),
		)
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.run(runCtx, i)
		}
		go func() {
			s.wg.Wait()
			atomic.StoreInt32(&s.stopping, 1)
			s.queue.Close()
			s.failPending()
			cancel()
			close(s.stoppedCh)
		}()
	})
	return nil
}

// Stop closes admission and lets workers drain what is already queued. If
// ctx ends first, in-flight inference is cancelled and Stop returns
// ctx.Err(); every queued request is still failed with ErrShuttingDown.
func (s *Scheduler) Stop(ctx context.Context) error {
	atomic.StoreInt32(&s.stopping, 1)
	s.stopOnce.Do(func() {
		s.queue.Close()
	})

	if atomic.LoadInt32(&s.started) == 0 {
		s.failPending()
		return nil
	}

	select {
	case <-s.stoppedCh:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) QueueDepth() int {
	return s.queue.Depth()
}

func (s *Scheduler) Metrics() BatcherMetrics {
	batchesFormed := atomic.LoadInt64(&s.batchesFormed)
	totalBatchSize := atomic.LoadInt64(&s.totalBatchSize)
	avgBatchSize := 0.0
	if batchesFormed > 0 {
		avgBatchSize = float64(totalBatchSize) / float64(batchesFormed)
	}
	return BatcherMetrics{
		QueueDepth:     s.QueueDepth(),
		BatchesFormed:  batchesFormed,
		RequestsQueued: atomic.LoadInt64(&s.requestsQueued),
		RequestsFailed: atomic.LoadInt64(&s.requestsFailed),
		AvgBatchSize:   avgBatchSize,
	}
}

type MetricsReport struct {
	stats.Metrics
	CurrentBatchSize int `json:"current_batch_size"`
	MaxBatchWaitMs   int `json:"max_batch_wait_ms"`
}

// LatencyReport is the metrics endpoint view: latency percentiles, recent
// throughput and the live scheduling parameters.
func (s *Scheduler) LatencyReport() MetricsReport {
	snap := s.controller.Snapshot()
	return MetricsReport{
		Metrics:          s.stats.Metrics(s.cfg.QPSWindow),
		CurrentBatchSize: snap.BatchSize,
		MaxBatchWaitMs:   snap.MaxWaitMs,
	}
}

func (s *Scheduler) Config() SchedulerConfig {
	return s.controller.Snapshot()
}

func (s *Scheduler) SetConfig(batchSize, maxWaitMs int) (SchedulerConfig, error) {
	next, err := s.controller.Update(batchSize, maxWaitMs)
	if err != nil {
		return SchedulerConfig{}, err
	}
	s.collector.SetConfig(next.BatchSize, next.MaxWaitMs)
	s.logger.Info("scheduler config updated",
		zap.Int("batch_size", next.BatchSize),
		zap.Int("max_wait_ms", next.MaxWaitMs),
		zap.Uint64("version", next.Version),
	)
	return next, nil
}

func (s *Scheduler) Stats() *stats.LatencyStats {
	return s.stats
}

func (s *Scheduler) run(ctx context.Context, worker int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker", worker))
	for {
		batch, err := s.former.Form(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				logger.Error("batch formation stopped", zap.Error(err))
			}
			return
		}
		s.process(ctx, batch)
	}
}

func (s *Scheduler) process(ctx context.Context, batch *models.Batch) {
	s.collector.SetQueueDepth(s.queue.Depth())
	result := s.executor.Execute(ctx, batch)

	atomic.AddInt64(&s.batchesFormed, 1)
	atomic.AddInt64(&s.totalBatchSize, int64(batch.Size()))
	s.collector.ObserveBatch(batch.Size(), result.InferMs)

	report := s.dispatcher.Dispatch(batch, result)
	atomic.AddInt64(&s.requestsFailed, int64(report.Failed))
}

func (s *Scheduler) failPending() {
	pending := s.queue.Drain()
	failed := 0
	for _, p := range pending {
		if p.Slot.Fail(models.ErrShuttingDown) {
			failed++
		}
	}
	if failed > 0 {
		atomic.AddInt64(&s.requestsFailed, int64(failed))
		s.collector.RequestsFailed(failed)
		s.logger.Warn("failed queued requests on shutdown", zap.Int("count", failed))
	}
	s.collector.SetQueueDepth(0)
}

func (s *Scheduler) strategyMetrics() *strategies.StrategyMetrics {
	latencies, _ := s.stats.Snapshot()
	if len(latencies) == 0 {
		return nil
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return &strategies.StrategyMetrics{
		P99LatencyMs: float64(stats.Percentile(latencies, 99)),
		TargetP99Ms:  s.cfg.TargetP99Ms,
	}
}
