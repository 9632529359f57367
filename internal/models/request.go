package models

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinPromptLength = 1
	MaxPromptLength = 4000

	MinNewTokens = 1
	MaxNewTokens = 512

	MinLatencyMs = 0
	MaxLatencyMs = 5000

	MinTimeoutMs = 1
	MaxTimeoutMs = 20000

	DefaultMaxNewTokens = 64
	DefaultLatencyMs    = 80
	DefaultTimeoutMs    = 1500
)

// InferenceRequest is the payload a caller hands to the scheduler.
// LatencyMs is the simulated compute time for this request alone.
type InferenceRequest struct {
	Prompt       string `json:"prompt"`
	MaxNewTokens int    `json:"max_new_tokens"`
	LatencyMs    int    `json:"latency_ms"`
	TimeoutMs    int    `json:"timeout_ms"`
}

func NewInferenceRequest(prompt string, maxNewTokens, latencyMs, timeoutMs int) *InferenceRequest {
	return &InferenceRequest{
		Prompt:       prompt,
		MaxNewTokens: maxNewTokens,
		LatencyMs:    latencyMs,
		TimeoutMs:    timeoutMs,
	}
}

// DefaultInferenceRequest returns a request carrying the routing layer's
// defaults; JSON decoding over it only overrides the fields present.
func DefaultInferenceRequest() InferenceRequest {
	return InferenceRequest{
		MaxNewTokens: DefaultMaxNewTokens,
		LatencyMs:    DefaultLatencyMs,
		TimeoutMs:    DefaultTimeoutMs,
	}
}

func (r *InferenceRequest) Validate() error {
	if r == nil {
		return ErrInvalidRequest
	}
	if n := utf8.RuneCountInString(r.Prompt); n < MinPromptLength || n > MaxPromptLength {
		return fmt.Errorf("%w: prompt length must be in [%d, %d], got %d", ErrInvalidRequest, MinPromptLength, MaxPromptLength, n)
	}
	if r.MaxNewTokens < MinNewTokens || r.MaxNewTokens > MaxNewTokens {
		return fmt.Errorf("%w: max_new_tokens must be in [%d, %d], got %d", ErrInvalidRequest, MinNewTokens, MaxNewTokens, r.MaxNewTokens)
	}
	if r.LatencyMs < MinLatencyMs || r.LatencyMs > MaxLatencyMs {
		return fmt.Errorf("%w: latency_ms must be in [%d, %d], got %d", ErrInvalidRequest, MinLatencyMs, MaxLatencyMs, r.LatencyMs)
	}
	if r.TimeoutMs < MinTimeoutMs || r.TimeoutMs > MaxTimeoutMs {
		return fmt.Errorf("%w: timeout_ms must be in [%d, %d], got %d", ErrInvalidRequest, MinTimeoutMs, MaxTimeoutMs, r.TimeoutMs)
	}
	return nil
}

func (r *InferenceRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

func (r *InferenceRequest) Latency() time.Duration {
	return time.Duration(r.LatencyMs) * time.Millisecond
}

// PendingRequest is a request that has been admitted into the scheduler.
// It is owned by the admission queue until a batch former drains it, then
// by its batch until Slot is resolved.
type PendingRequest struct {
	ID         string
	Request    *InferenceRequest
	EnqueuedAt time.Time
	Slot       *ResultSlot
}

func NewPendingRequest(req *InferenceRequest) *PendingRequest {
	return &PendingRequest{
		ID:         uuid.New().String(),
		Request:    req,
		EnqueuedAt: time.Now(),
		Slot:       NewResultSlot(),
	}
}

func (p *PendingRequest) AgeMs() float64 {
	return float64(time.Since(p.EnqueuedAt).Milliseconds())
}
