// Package metrics exports scheduler internals to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Collector owns a private registry so several schedulers (and tests) can
// coexist in one process. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	batchesFormed      prometheus.Counter
	batchSize          prometheus.Histogram
	batchInferDuration prometheus.Histogram
	serverLatency      prometheus.Histogram
	requestsTotal      *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	configBatchSize    prometheus.Gauge
	configMaxWait      prometheus.Gauge

	logger *zap.Logger
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		batchesFormed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batches_formed_total",
			Help:      "Total number of batches handed to the inference engine",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batch_size",
			Help:      "Number of requests per executed batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		batchInferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "batch_infer_duration_seconds",
			Help:      "Inference time charged per batch",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		serverLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "server_latency_seconds",
			Help:      "Batch wait plus batch inference time per request",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "requests_total",
			Help:      "Requests resolved by the dispatcher, by outcome",
		}, []string{"status"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "queue_depth",
			Help:      "Requests waiting in the admission queue",
		}),
		configBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "config_batch_size",
			Help:      "Configured maximum batch size",
		}),
		configMaxWait: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batcher",
			Name:      "config_max_wait_seconds",
			Help:      "Configured batch window",
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}

func (c *Collector) ObserveBatch(size int, inferMs int64) {
	if c == nil {
		return
	}
	c.batchesFormed.Inc()
	c.batchSize.Observe(float64(size))
	c.batchInferDuration.Observe(float64(inferMs) / 1000)
}

func (c *Collector) ObserveRequest(serverLatencyMs int64) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(StatusSuccess).Inc()
	c.serverLatency.Observe(float64(serverLatencyMs) / 1000)
}

func (c *Collector) RequestsFailed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.requestsTotal.WithLabelValues(StatusFailure).Add(float64(n))
}

func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

func (c *Collector) SetConfig(batchSize, maxWaitMs int) {
	if c == nil {
		return
	}
	c.configBatchSize.Set(float64(batchSize))
	c.configMaxWait.Set(float64(maxWaitMs) / 1000)
}
