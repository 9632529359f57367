package models

import (
	"time"

	"github.com/google/uuid"
)

type Batch struct {
	ID            string            `json:"id"`
	Requests      []*PendingRequest `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	StrategyUsed  string            `json:"strategy_used"`
	ConfigVersion uint64            `json:"config_version"`
}

func NewBatch(requests []*PendingRequest, strategy string) *Batch {
	return &Batch{
		ID:           uuid.New().String(),
		Requests:     requests,
		CreatedAt:    time.Now(),
		StrategyUsed: strategy,
	}
}

func (b *Batch) Size() int {
	return len(b.Requests)
}

// MaxLatencyMs is the slowest member's configured latency.
func (b *Batch) MaxLatencyMs() int {
	max := 0
	for _, p := range b.Requests {
		if p.Request != nil && p.Request.LatencyMs > max {
			max = p.Request.LatencyMs
		}
	}
	return max
}

func (b *Batch) Payloads() []*InferenceRequest {
	out := make([]*InferenceRequest, len(b.Requests))
	for i, p := range b.Requests {
		out[i] = p.Request
	}
	return out
}

// InferenceOutput is what an engine returns for one batch: one text per
// request, positionally aligned, plus the latency the engine charged.
type InferenceOutput struct {
	Texts   []string
	Latency time.Duration
}

type BatchResult struct {
	BatchID     string    `json:"batch_id"`
	Texts       []string  `json:"texts"`
	WaitsMs     []int64   `json:"waits_ms"`
	InferMs     int64     `json:"infer_ms"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       error     `json:"-"`
}

func (r *BatchResult) Failed() bool {
	return r.Error != nil
}
