package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhelloe/llm-infra-learning/internal/inference"
	"github.com/hhelloe/llm-infra-learning/internal/models"
)

func newTestScheduler(t *testing.T, batchSize, maxWaitMs int, engine Engine) *Scheduler {
	t.Helper()
	if engine == nil {
		engine = inference.NewMockEngine(nil)
	}
	s, err := NewScheduler(BatcherConfig{BatchSize: batchSize, MaxWaitMs: maxWaitMs, StatsCapacity: 100}, engine)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitAll(t *testing.T, pending []*models.PendingRequest) []*models.InferResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make([]*models.InferResult, len(pending))
	for i, p := range pending {
		res, err := p.Slot.Wait(ctx)
		require.NoError(t, err)
		out[i] = res
	}
	return out
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(BatcherConfig{BatchSize: 4, MaxWaitMs: 50}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(BatcherConfig{BatchSize: 0, MaxWaitMs: 50}, inference.NewMockEngine(nil))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = NewScheduler(BatcherConfig{BatchSize: 4, MaxWaitMs: 50, Strategy: "nope"}, inference.NewMockEngine(nil))
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestSchedulerFullBatchOfConcurrentRequests(t *testing.T) {
	s := newTestScheduler(t, 4, 50, nil)
	require.NoError(t, s.Start(context.Background()))

	pending := make([]*models.PendingRequest, 4)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("hello", 2, 80, 1000))
		require.NoError(t, err)
		pending[i] = p
	}

	for _, res := range waitAll(t, pending) {
		assert.Equal(t, "hello <tok> <tok>", res.Text)
		assert.Equal(t, int64(80), res.BatchInferMs)
		assert.Less(t, res.BatchWaitMs, int64(50), "a full batch closes before the window")
		assert.Equal(t, res.BatchWaitMs+res.BatchInferMs, res.ServerLatencyMs)
	}

	m := s.Metrics()
	assert.Equal(t, int64(1), m.BatchesFormed)
	assert.Equal(t, 4.0, m.AvgBatchSize)
	assert.Equal(t, 4, s.Stats().Len())
}

func TestSchedulerLoneRequestWaitsForWindow(t *testing.T) {
	s := newTestScheduler(t, 4, 50, nil)
	require.NoError(t, s.Start(context.Background()))

	res, err := s.Infer(context.Background(), models.NewInferenceRequest("solo", 1, 10, 1000))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.BatchWaitMs, int64(45))
	assert.Less(t, res.BatchWaitMs, int64(300))
	assert.Equal(t, int64(10), res.BatchInferMs)
	assert.Equal(t, int64(1), s.Metrics().BatchesFormed)
}

func TestSchedulerBatchFailureFailsAllMembers(t *testing.T) {
	engine := EngineFunc(func(context.Context, []*models.InferenceRequest) (*models.InferenceOutput, error) {
		return nil, errors.New("engine down")
	})
	s := newTestScheduler(t, 4, 20, engine)

	pending := make([]*models.PendingRequest, 3)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("x", 1, 0, 1000))
		require.NoError(t, err)
		pending[i] = p
	}
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, p := range pending {
		_, err := p.Slot.Wait(ctx)
		assert.ErrorIs(t, err, models.ErrInferenceFailed)
	}
	assert.Equal(t, 0, s.Stats().Len())
	assert.Eventually(t, func() bool {
		return s.Metrics().RequestsFailed == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerSplitsBacklogIntoFullBatches(t *testing.T) {
	s := newTestScheduler(t, 4, 50, nil)

	pending := make([]*models.PendingRequest, 16)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("p", 1, 1, 5000))
		require.NoError(t, err)
		pending[i] = p
	}
	require.NoError(t, s.Start(context.Background()))
	waitAll(t, pending)

	m := s.Metrics()
	assert.Equal(t, int64(4), m.BatchesFormed)
	assert.Equal(t, 4.0, m.AvgBatchSize)
	assert.Equal(t, int64(16), m.RequestsQueued)
	assert.Equal(t, 16, s.Stats().Len())
}

type sizeRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (r *sizeRecorder) engine() Engine {
	return EngineFunc(func(_ context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
		r.mu.Lock()
		r.sizes = append(r.sizes, len(reqs))
		r.mu.Unlock()
		return &models.InferenceOutput{Texts: make([]string, len(reqs))}, nil
	})
}

func TestSchedulerNeverExceedsBatchSize(t *testing.T) {
	rec := &sizeRecorder{}
	s := newTestScheduler(t, 3, 10, rec.engine())
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Infer(context.Background(), models.NewInferenceRequest("p", 1, 0, 2000))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	total := 0
	for _, size := range rec.sizes {
		assert.LessOrEqual(t, size, 3)
		assert.Greater(t, size, 0)
		total += size
	}
	assert.Equal(t, 20, total)
}

func TestSchedulerConfigUpdateAppliesToNextBatch(t *testing.T) {
	rec := &sizeRecorder{}
	s := newTestScheduler(t, 2, 200, rec.engine())

	next, err := s.SetConfig(3, 200)
	require.NoError(t, err)
	assert.Equal(t, 3, next.BatchSize)
	assert.Equal(t, SchedulerConfig{BatchSize: 3, MaxWaitMs: 200, Version: 2}, s.Config())

	_, err = s.SetConfig(0, 10)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
	assert.Equal(t, 3, s.Config().BatchSize)

	pending := make([]*models.PendingRequest, 6)
	for i := range pending {
		pending[i], err = s.Submit(context.Background(), models.NewInferenceRequest("p", 1, 0, 1000))
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(context.Background()))
	waitAll(t, pending)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{3, 3}, rec.sizes)

	report := s.LatencyReport()
	assert.Equal(t, 3, report.CurrentBatchSize)
	assert.Equal(t, 200, report.MaxBatchWaitMs)
	assert.Equal(t, 6, report.Count)
}

func TestSchedulerBacklogPastWindowRunsOneRequestPerBatch(t *testing.T) {
	rec := &sizeRecorder{}
	slow := EngineFunc(func(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
		time.Sleep(30 * time.Millisecond)
		return rec.engine().InferBatch(ctx, reqs)
	})
	s := newTestScheduler(t, 4, 10, slow)

	pending := make([]*models.PendingRequest, 7)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("p", 1, 0, 5000))
		require.NoError(t, err)
		pending[i] = p
	}
	require.NoError(t, s.Start(context.Background()))
	waitAll(t, pending)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{4, 1, 1, 1}, rec.sizes, "an expired window closes with only its first request")
}

func TestSchedulerAbandonedWaitKeepsRequestInBatch(t *testing.T) {
	s := newTestScheduler(t, 1, 10, nil)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Infer(context.Background(), models.NewInferenceRequest("slow", 1, 100, 20))
	assert.ErrorIs(t, err, models.ErrInferenceTimeout)

	assert.Eventually(t, func() bool {
		return s.Stats().Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "the abandoned request still completes and is recorded")
}

func TestSchedulerInferMany(t *testing.T) {
	s := newTestScheduler(t, 4, 20, nil)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.InferMany(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrEmptyBatch)

	reqs := []*models.InferenceRequest{
		models.NewInferenceRequest("a", 1, 5, 1000),
		models.NewInferenceRequest("b", 2, 5, 1000),
		models.NewInferenceRequest("c", 3, 5, 1000),
	}
	outcomes, err := s.InferMany(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, inference.GenerateText(reqs[i].Prompt, reqs[i].MaxNewTokens), o.Result.Text)
	}
	assert.Equal(t, int64(1), s.Metrics().BatchesFormed)
}

func TestSchedulerStopBeforeStartFailsQueued(t *testing.T) {
	s := newTestScheduler(t, 4, 50, nil)
	p, err := s.Submit(context.Background(), models.NewInferenceRequest("x", 1, 0, 1000))
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))

	_, err = p.Slot.Wait(context.Background())
	assert.ErrorIs(t, err, models.ErrShuttingDown)

	_, err = s.Submit(context.Background(), models.NewInferenceRequest("y", 1, 0, 1000))
	assert.ErrorIs(t, err, models.ErrShuttingDown)
	assert.Equal(t, 0, s.QueueDepth())
}

func TestSchedulerStopDrainsQueue(t *testing.T) {
	var calls int32
	engine := EngineFunc(func(_ context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return &models.InferenceOutput{Texts: make([]string, len(reqs))}, nil
	})
	s := newTestScheduler(t, 2, 5, engine)
	require.NoError(t, s.Start(context.Background()))

	pending := make([]*models.PendingRequest, 5)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("x", 1, 0, 1000))
		require.NoError(t, err)
		pending[i] = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	for _, p := range pending {
		assert.True(t, p.Slot.Resolved())
		_, err := p.Slot.Wait(context.Background())
		assert.NoError(t, err)
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestSchedulerStopTimeoutStillResolvesEverything(t *testing.T) {
	engine := EngineFunc(func(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := newTestScheduler(t, 1, 5, engine)
	require.NoError(t, s.Start(context.Background()))

	pending := make([]*models.PendingRequest, 3)
	for i := range pending {
		p, err := s.Submit(context.Background(), models.NewInferenceRequest("x", 1, 0, 1000))
		require.NoError(t, err)
		pending[i] = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	for _, p := range pending {
		_, err := p.Slot.Wait(waitCtx)
		require.Error(t, err)
		assert.True(t,
			errors.Is(err, models.ErrInferenceFailed) || errors.Is(err, models.ErrShuttingDown),
			"unexpected error %v", err)
	}
}
