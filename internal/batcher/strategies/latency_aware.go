package strategies

import "time"

const minLatencyAwareWindow = 1 * time.Millisecond

// LatencyAwareStrategy scales a base window by how observed p99 compares to
// a target: 0.8x when p99 is over 110% of target, 1.2x when under 80%.
type LatencyAwareStrategy struct {
	base        Strategy
	targetP99Ms float64
}

func NewLatencyAwareStrategy(base Strategy, targetP99Ms float64) *LatencyAwareStrategy {
	return &LatencyAwareStrategy{
		base:        base,
		targetP99Ms: targetP99Ms,
	}
}

func (s *LatencyAwareStrategy) Name() string {
	return NameLatencyAware
}

func (s *LatencyAwareStrategy) NeedsLatencyMetrics() bool {
	return true
}

func (s *LatencyAwareStrategy) CalculateWindow(maxWait time.Duration, queueDepth int, metrics *StrategyMetrics) time.Duration {
	window := maxWait
	if s.base != nil {
		window = s.base.CalculateWindow(maxWait, queueDepth, metrics)
	}

	target := s.targetP99Ms
	if metrics != nil && metrics.TargetP99Ms > 0 {
		target = metrics.TargetP99Ms
	}
	if metrics != nil && target > 0 && metrics.P99LatencyMs > 0 {
		if metrics.P99LatencyMs > target*1.1 {
			window = time.Duration(float64(window) * 0.8)
		} else if metrics.P99LatencyMs < target*0.8 {
			window = time.Duration(float64(window) * 1.2)
		}
	}

	if window < minLatencyAwareWindow {
		window = minLatencyAwareWindow
	}
	return clampWindow(window, maxWait)
}
