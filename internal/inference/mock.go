// Package inference provides the simulated batch inference engine.
package inference

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/models"
)

const tokenMarker = "<tok>"

// MockEngine simulates batched compute. A batch costs as long as its slowest
// member and all texts are returned together.
type MockEngine struct {
	logger *zap.Logger
}

func NewMockEngine(logger *zap.Logger) *MockEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockEngine{logger: logger.With(zap.String("component", "mock_engine"))}
}

func (e *MockEngine) InferBatch(ctx context.Context, reqs []*models.InferenceRequest) (*models.InferenceOutput, error) {
	if len(reqs) == 0 {
		return nil, models.ErrEmptyBatch
	}
	latency := BatchLatency(reqs)

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = GenerateText(r.Prompt, r.MaxNewTokens)
	}
	e.logger.Debug("batch inferred", zap.Int("size", len(reqs)), zap.Duration("latency", latency))
	return &models.InferenceOutput{Texts: texts, Latency: latency}, nil
}

// BatchLatency is the largest configured latency among reqs.
func BatchLatency(reqs []*models.InferenceRequest) time.Duration {
	var max time.Duration
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if l := r.Latency(); l > max {
			max = l
		}
	}
	return max
}

// GenerateText echoes the prompt followed by one marker per new token.
func GenerateText(prompt string, newTokens int) string {
	if newTokens <= 0 {
		return prompt + " "
	}
	return prompt + " " + strings.TrimSpace(strings.Repeat(tokenMarker+" ", newTokens))
}
