// Package queue holds the scheduler's admission queue.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hhelloe/llm-infra-learning/internal/models"
)

var ErrClosed = errors.New("admission queue is closed")

// AdmissionQueue is an unbounded FIFO. Push never blocks; Pop and PopWithin
// suspend until an item arrives, the queue is closed and empty, or the
// context ends.
type AdmissionQueue struct {
	mu        sync.Mutex
	items     []*models.PendingRequest
	closed    bool
	notify    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

func NewAdmissionQueue() *AdmissionQueue {
	return &AdmissionQueue{
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

func (q *AdmissionQueue) Push(req *models.PendingRequest) error {
	if req == nil {
		return models.ErrInvalidRequest
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, req)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *AdmissionQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *AdmissionQueue) TryPop() (*models.PendingRequest, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	// pass the wakeup on so a second waiter sees the leftover items
	if remaining > 0 {
		q.signal()
	}
	return req, true
}

// Pop waits without a timeout for the next request.
func (q *AdmissionQueue) Pop(ctx context.Context) (*models.PendingRequest, error) {
	for {
		if req, ok := q.TryPop(); ok {
			return req, nil
		}
		if q.isClosed() {
			return nil, ErrClosed
		}
		select {
		case <-q.notify:
		case <-q.closedCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PopWithin waits at most d for the next request. ok is false when d
// elapsed first or the queue is closed and empty.
func (q *AdmissionQueue) PopWithin(ctx context.Context, d time.Duration) (*models.PendingRequest, bool, error) {
	if req, ok := q.TryPop(); ok {
		return req, true, nil
	}
	if d <= 0 {
		return nil, false, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		if q.isClosed() {
			return nil, false, nil
		}
		select {
		case <-q.notify:
		case <-q.closedCh:
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if req, ok := q.TryPop(); ok {
			return req, true, nil
		}
	}
}

func (q *AdmissionQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Items already queued can still be popped.
func (q *AdmissionQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.closedCh)
	})
}

func (q *AdmissionQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns everything still queued, in FIFO order.
func (q *AdmissionQueue) Drain() []*models.PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
