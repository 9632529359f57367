package strategies

import "time"

// FixedStrategy keeps every batch window open for the full configured wait.
type FixedStrategy struct{}

func NewFixedStrategy() *FixedStrategy {
	return &FixedStrategy{}
}

func (s *FixedStrategy) Name() string {
	return NameFixed
}

func (s *FixedStrategy) CalculateWindow(maxWait time.Duration, _ int, _ *StrategyMetrics) time.Duration {
	return clampWindow(maxWait, maxWait)
}
