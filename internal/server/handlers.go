package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hhelloe/llm-infra-learning/internal/batcher"
	"github.com/hhelloe/llm-infra-learning/internal/bench"
	"github.com/hhelloe/llm-infra-learning/internal/models"
)

const (
	maxBodyBytes = 1 << 20

	// StatusClientClosedRequest is reported when the caller went away before
	// its result was ready.
	StatusClientClosedRequest = 499
)

// Scheduler is the part of batcher.Scheduler the routes use.
type Scheduler interface {
	Infer(ctx context.Context, req *models.InferenceRequest) (*models.InferResult, error)
	InferMany(ctx context.Context, reqs []*models.InferenceRequest) ([]batcher.Outcome, error)
	LatencyReport() batcher.MetricsReport
	SetConfig(batchSize, maxWaitMs int) (batcher.SchedulerConfig, error)
}

type Benchmarker interface {
	Run(ctx context.Context, p bench.Params) (*bench.Result, error)
}

type Handler struct {
	scheduler Scheduler
	bench     Benchmarker
	logger    *zap.Logger
}

func NewHandler(scheduler Scheduler, benchmarker Benchmarker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		scheduler: scheduler,
		bench:     benchmarker,
		logger:    logger.With(zap.String("component", "http")),
	}
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type BatchInferItem struct {
	*models.InferResult
	Error string `json:"error,omitempty"`
}

type ConfigRequest struct {
	BatchSize int `json:"batch_size"`
	MaxWaitMs int `json:"max_wait_ms"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) InferOne(w http.ResponseWriter, r *http.Request) {
	req := models.DefaultInferenceRequest()
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.scheduler.Infer(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// InferBatch validates every item before admitting any of them. Per-item
// failures are reported inline; the response is still 200.
func (h *Handler) InferBatch(w http.ResponseWriter, r *http.Request) {
	var raw []json.RawMessage
	if !h.decode(w, r, &raw) {
		return
	}
	if len(raw) == 0 {
		h.writeError(w, models.ErrEmptyBatch)
		return
	}

	reqs := make([]*models.InferenceRequest, len(raw))
	for i, item := range raw {
		req := models.DefaultInferenceRequest()
		if err := json.Unmarshal(item, &req); err != nil {
			h.writeError(w, fmt.Errorf("%w: item %d: %v", models.ErrInvalidRequest, i, err))
			return
		}
		if err := req.Validate(); err != nil {
			h.writeError(w, fmt.Errorf("item %d: %w", i, err))
			return
		}
		reqs[i] = &req
	}

	outcomes, err := h.scheduler.InferMany(r.Context(), reqs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]BatchInferItem, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			items[i].Error = o.Err.Error()
			continue
		}
		items[i].InferResult = o.Result
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) Benchmark(w http.ResponseWriter, r *http.Request) {
	if h.bench == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Detail: "benchmark disabled"})
		return
	}
	params := bench.DefaultParams()
	if !h.decode(w, r, &params) {
		return
	}
	result, err := h.bench.Run(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.LatencyReport())
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body ConfigRequest
	if !h.decode(w, r, &body) {
		return
	}
	next, err := h.scheduler.SetConfig(body.BatchSize, body.MaxWaitMs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmptyBatch), errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInferenceTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, models.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := err.Error()
	if errors.Is(err, models.ErrInferenceTimeout) {
		detail = models.ErrInferenceTimeout.Error()
	}
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
