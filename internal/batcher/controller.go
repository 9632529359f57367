package batcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hhelloe/llm-infra-learning/internal/models"
)

// SchedulerConfig is an immutable snapshot of the scheduling parameters.
// Version increases by one on every accepted update.
type SchedulerConfig struct {
	BatchSize int    `json:"batch_size"`
	MaxWaitMs int    `json:"max_wait_ms"`
	Version   uint64 `json:"-"`
}

func (c SchedulerConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

func validateSchedulerConfig(batchSize, maxWaitMs int) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0, got %d", models.ErrInvalidConfig, batchSize)
	}
	if maxWaitMs <= 0 {
		return fmt.Errorf("%w: max_wait_ms must be > 0, got %d", models.ErrInvalidConfig, maxWaitMs)
	}
	return nil
}

// ConfigController publishes SchedulerConfig snapshots. Readers never block
// and always see a complete snapshot; a formation cycle keeps whichever
// snapshot it loaded at its start.
type ConfigController struct {
	current atomic.Pointer[SchedulerConfig]
	mu      sync.Mutex
}

func NewConfigController(batchSize, maxWaitMs int) (*ConfigController, error) {
	if err := validateSchedulerConfig(batchSize, maxWaitMs); err != nil {
		return nil, err
	}
	c := &ConfigController{}
	c.current.Store(&SchedulerConfig{BatchSize: batchSize, MaxWaitMs: maxWaitMs, Version: 1})
	return c, nil
}

func (c *ConfigController) Snapshot() SchedulerConfig {
	return *c.current.Load()
}

// Update validates both values before touching any state, then replaces the
// live snapshot.
func (c *ConfigController) Update(batchSize, maxWaitMs int) (SchedulerConfig, error) {
	if err := validateSchedulerConfig(batchSize, maxWaitMs); err != nil {
		return SchedulerConfig{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	next := &SchedulerConfig{
		BatchSize: batchSize,
		MaxWaitMs: maxWaitMs,
		Version:   c.current.Load().Version + 1,
	}
	c.current.Store(next)
	return *next, nil
}
