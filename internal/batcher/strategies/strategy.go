// Package strategies decides how long a forming batch may stay open.
//
// A strategy is consulted once per formation cycle with the cycle's
// configured max wait. The window it returns never exceeds that value, so a
// strategy can only close a batch earlier than the configured deadline.
package strategies

import (
	"fmt"
	"time"
)

const (
	NameFixed        = "fixed"
	NameQueueDepth   = "queue_depth"
	NameLatencyAware = "latency_aware"
)

type Strategy interface {
	Name() string
	CalculateWindow(maxWait time.Duration, queueDepth int, metrics *StrategyMetrics) time.Duration
}

// MetricsAware strategies want observed latency figures each cycle.
type MetricsAware interface {
	NeedsLatencyMetrics() bool
}

type StrategyMetrics struct {
	P99LatencyMs float64
	TargetP99Ms  float64
}

type StrategyConfig struct {
	Name                    string
	MinWaitMs               int
	QueueDepthLowThreshold  int
	QueueDepthHighThreshold int
	TargetP99Ms             float64
}

func New(cfg StrategyConfig) (Strategy, error) {
	switch cfg.Name {
	case "", NameFixed:
		return NewFixedStrategy(), nil
	case NameQueueDepth:
		return NewQueueDepthStrategy(cfg.QueueDepthLowThreshold, cfg.QueueDepthHighThreshold, cfg.MinWaitMs), nil
	case NameLatencyAware:
		base := NewQueueDepthStrategy(cfg.QueueDepthLowThreshold, cfg.QueueDepthHighThreshold, cfg.MinWaitMs)
		return NewLatencyAwareStrategy(base, cfg.TargetP99Ms), nil
	default:
		return nil, fmt.Errorf("unknown batching strategy %q", cfg.Name)
	}
}

func clampWindow(window, maxWait time.Duration) time.Duration {
	if window > maxWait {
		return maxWait
	}
	if window < 0 {
		return 0
	}
	return window
}
