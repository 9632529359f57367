package models

import (
	"context"
	"errors"
	"sync"
)

type InferResult struct {
	Text            string `json:"text"`
	BatchWaitMs     int64  `json:"batch_wait_ms"`
	BatchInferMs    int64  `json:"batch_infer_ms"`
	ServerLatencyMs int64  `json:"server_latency_ms"`
}

// ResultSlot is a single-assignment container for one request's outcome.
// The first Resolve or Fail wins; later writes are no-ops and report false.
type ResultSlot struct {
	once   sync.Once
	done   chan struct{}
	result *InferResult
	err    error
}

func NewResultSlot() *ResultSlot {
	return &ResultSlot{done: make(chan struct{})}
}

func (s *ResultSlot) Resolve(result *InferResult) bool {
	return s.set(result, nil)
}

func (s *ResultSlot) Fail(err error) bool {
	if err == nil {
		err = ErrInferenceFailed
	}
	return s.set(nil, err)
}

func (s *ResultSlot) set(result *InferResult, err error) bool {
	written := false
	s.once.Do(func() {
		s.result = result
		s.err = err
		written = true
		close(s.done)
	})
	return written
}

func (s *ResultSlot) Done() <-chan struct{} {
	return s.done
}

func (s *ResultSlot) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the slot is resolved or ctx ends. A deadline on ctx is
// reported as ErrInferenceTimeout; abandoning the wait does not touch the
// slot, which may still be resolved later.
func (s *ResultSlot) Wait(ctx context.Context) (*InferResult, error) {
	select {
	case <-s.done:
		return s.result, s.err
	default:
	}

	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrInferenceTimeout
		}
		return nil, ctx.Err()
	}
}
