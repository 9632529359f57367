package batcher

import (
	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/metrics"
	"github.com/hhelloe/llm-infra-learning/internal/models"
)

type Recorder interface {
	Record(latencyMs int64)
}

type DispatchReport struct {
	Resolved int
	Failed   int
	// Skipped counts slots that already held an outcome.
	Skipped int
}

// ResultDispatcher fans a batch result out to its members' slots. Successes
// are recorded into stats; a failed batch records nothing and every member
// gets the same error.
type ResultDispatcher struct {
	stats     Recorder
	collector *metrics.Collector
	logger    *zap.Logger
}

func NewResultDispatcher(stats Recorder, collector *metrics.Collector, logger *zap.Logger) *ResultDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultDispatcher{stats: stats, collector: collector, logger: logger}
}

func (d *ResultDispatcher) Dispatch(batch *models.Batch, result *models.BatchResult) DispatchReport {
	var report DispatchReport

	if result.Failed() {
		for _, p := range batch.Requests {
			if p.Slot.Fail(result.Error) {
				report.Failed++
			} else {
				report.Skipped++
			}
		}
		d.collector.RequestsFailed(report.Failed)
		d.logger.Warn("batch failed",
			zap.String("batch_id", batch.ID),
			zap.Int("size", batch.Size()),
			zap.Error(result.Error),
		)
		return report
	}

	for i, p := range batch.Requests {
		wait := result.WaitsMs[i]
		serverLatency := wait + result.InferMs
		if d.stats != nil {
			d.stats.Record(serverLatency)
		}
		d.collector.ObserveRequest(serverLatency)

		resolved := p.Slot.Resolve(&models.InferResult{
			Text:            result.Texts[i],
			BatchWaitMs:     wait,
			BatchInferMs:    result.InferMs,
			ServerLatencyMs: serverLatency,
		})
		if resolved {
			report.Resolved++
		} else {
			report.Skipped++
		}
	}
	return report
}
