// Package stats records recent request latencies and derives percentile and
// throughput figures from them.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"
)

const DefaultCapacity = 5000

// LatencyStats is a fixed-capacity ring of latency samples with a parallel
// ring of arrival timestamps. Both rings share head and size, so sample i
// always pairs with timestamp i.
type LatencyStats struct {
	mu         sync.Mutex
	latencies  []int64
	timestamps []time.Time
	head       int
	size       int
	now        func() time.Time
}

type Option func(*LatencyStats)

// WithClock overrides the timestamp source used by Record.
func WithClock(now func() time.Time) Option {
	return func(s *LatencyStats) {
		if now != nil {
			s.now = now
		}
	}
}

func NewLatencyStats(capacity int, opts ...Option) *LatencyStats {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &LatencyStats{
		latencies:  make([]int64, capacity),
		timestamps: make([]time.Time, capacity),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a sample stamped with the current time, evicting the
// oldest pair once the ring is full.
func (s *LatencyStats) Record(latencyMs int64) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.head + s.size) % len(s.latencies)
	s.latencies[idx] = latencyMs
	s.timestamps[idx] = now
	if s.size < len(s.latencies) {
		s.size++
		return
	}
	s.head = (s.head + 1) % len(s.latencies)
}

// Snapshot returns copies of both rings, oldest first.
func (s *LatencyStats) Snapshot() ([]int64, []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latencies := make([]int64, s.size)
	timestamps := make([]time.Time, s.size)
	for i := 0; i < s.size; i++ {
		idx := (s.head + i) % len(s.latencies)
		latencies[i] = s.latencies[idx]
		timestamps[i] = s.timestamps[idx]
	}
	return latencies, timestamps
}

func (s *LatencyStats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *LatencyStats) Capacity() int {
	return len(s.latencies)
}

// Metrics summarises the current contents, with throughput measured over
// the trailing window.
func (s *LatencyStats) Metrics(window time.Duration) Metrics {
	latencies, timestamps := s.Snapshot()
	summary := Summarize(latencies)
	return Metrics{
		Count:        summary.Count,
		AvgLatencyMs: summary.AvgMs,
		P50Ms:        summary.P50Ms,
		P90Ms:        summary.P90Ms,
		P99Ms:        summary.P99Ms,
		QPS:          Round2(WindowedRate(timestamps, window, s.now())),
	}
}

type Metrics struct {
	Count        int     `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50Ms        int64   `json:"p50_ms"`
	P90Ms        int64   `json:"p90_ms"`
	P99Ms        int64   `json:"p99_ms"`
	// QPS is measured over metrics.qps_window. The JSON name stays qps_10s
	// whatever the window is.
	QPS float64 `json:"qps_10s"`
}

type Summary struct {
	Count int
	MinMs int64
	MaxMs int64
	AvgMs float64
	P50Ms int64
	P90Ms int64
	P99Ms int64
}

// Summarize sorts a copy of latencies and reduces it. Avg is rounded to two
// decimals; every field is zero for an empty input.
func Summarize(latencies []int64) Summary {
	if len(latencies) == 0 {
		return Summary{}
	}
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	return Summary{
		Count: len(sorted),
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
		AvgMs: Round2(float64(sum) / float64(len(sorted))),
		P50Ms: Percentile(sorted, 50),
		P90Ms: Percentile(sorted, 90),
		P99Ms: Percentile(sorted, 99),
	}
}

// Percentile uses the nearest-rank index floor(p/100*(n-1)) into an
// ascending slice. It does not interpolate.
func Percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	idx := int(math.Floor(p / 100 * float64(len(sorted)-1)))
	return sorted[idx]
}

// WindowedRate counts timestamps no older than window before now and
// divides by the window length in seconds.
func WindowedRate(timestamps []time.Time, window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			count++
		}
	}
	return float64(count) / window.Seconds()
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
