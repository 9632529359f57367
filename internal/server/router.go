package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler *Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger.With(zap.String("component", "http"))))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", cfg.Handler.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/batch", func(br chi.Router) {
		br.Post("/infer_one", cfg.Handler.InferOne)
		br.Post("/infer", cfg.Handler.InferBatch)
		br.Post("/test", cfg.Handler.Benchmark)
		br.Get("/metrics", cfg.Handler.Metrics)
		br.Post("/config", cfg.Handler.UpdateConfig)
	})

	return r
}
