package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/models"
)

// Engine runs one inference call for a whole batch. Texts must be
// positionally aligned with reqs.
type Engine interface {
	InferBatch(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error)
}

type EngineFunc func(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error)

func (f EngineFunc) InferBatch(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
	return f(ctx, reqs)
}

var errNoOutput = errors.New("engine returned no output")

// BatchExecutor calls the engine once per batch and derives per-request
// wait times. A failed call fails the whole batch.
type BatchExecutor struct {
	engine Engine
	logger *zap.Logger
}

func NewBatchExecutor(engine Engine, logger *zap.Logger) *BatchExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchExecutor{engine: engine, logger: logger}
}

func (e *BatchExecutor) Execute(ctx context.Context, batch *models.Batch) *models.BatchResult {
	start := time.Now()
	result := &models.BatchResult{
		BatchID:   batch.ID,
		WaitsMs:   make([]int64, batch.Size()),
		StartedAt: start,
	}
	for i, p := range batch.Requests {
		wait := start.Sub(p.EnqueuedAt).Milliseconds()
		if wait < 0 {
			wait = 0
		}
		result.WaitsMs[i] = wait
	}

	output, err := e.invoke(ctx, batch.Payloads())
	result.CompletedAt = time.Now()
	if err == nil && len(output.Texts) != batch.Size() {
		err = fmt.Errorf("engine returned %d texts for %d requests", len(output.Texts), batch.Size())
	}
	if err != nil {
		result.Error = fmt.Errorf("%w: %w", models.ErrInferenceFailed, err)
		return result
	}

	result.Texts = output.Texts
	if output.Latency > 0 {
		result.InferMs = output.Latency.Milliseconds()
	} else {
		result.InferMs = result.CompletedAt.Sub(start).Milliseconds()
	}
	return result
}

func (e *BatchExecutor) invoke(ctx context.Context, reqs []*models.InferenceRequest) (output *models.InferenceOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("inference engine panicked", zap.Any("panic", r))
			output, err = nil, fmt.Errorf("engine panic: %v", r)
		}
	}()
	output, err = e.engine.InferBatch(ctx, reqs)
	if err == nil && output == nil {
		err = errNoOutput
	}
	return output, err
}
