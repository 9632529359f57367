package strategies

import "time"

// QueueDepthStrategy shortens the window as backlog grows: the full wait at
// or below lowThreshold, minWaitMs at or above highThreshold, linear between.
type QueueDepthStrategy struct {
	lowThreshold  int
	highThreshold int
	minWaitMs     int
}

func NewQueueDepthStrategy(lowThreshold, highThreshold, minWaitMs int) *QueueDepthStrategy {
	return &QueueDepthStrategy{
		lowThreshold:  lowThreshold,
		highThreshold: highThreshold,
		minWaitMs:     minWaitMs,
	}
}

func (s *QueueDepthStrategy) Name() string {
	return NameQueueDepth
}

func (s *QueueDepthStrategy) CalculateWindow(maxWait time.Duration, queueDepth int, _ *StrategyMetrics) time.Duration {
	minWait := clampWindow(time.Duration(s.minWaitMs)*time.Millisecond, maxWait)

	if queueDepth <= 0 || queueDepth <= s.lowThreshold {
		return maxWait
	}
	if queueDepth >= s.highThreshold || s.highThreshold <= s.lowThreshold {
		return minWait
	}

	maxMs := float64(maxWait.Milliseconds())
	minMs := float64(minWait.Milliseconds())
	ratio := float64(queueDepth-s.lowThreshold) / float64(s.highThreshold-s.lowThreshold)
	waitMs := maxMs - ratio*(maxMs-minMs)
	if waitMs < 0 {
		waitMs = 0
	}
	return clampWindow(time.Duration(waitMs)*time.Millisecond, maxWait)
}
