package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/technosupport/ts-ptz/internal/metrics"
	"github.com/technosupport/ts-ptz/internal/middleware"
)

type RouterConfig struct {
	Logger         *zap.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
	Auth           *middleware.JWTAuth // nil: no bearer auth
}

// NewRouter mounts the control API, health and metrics endpoints.
func NewRouter(cfg RouterConfig, ptzHandler *PTZHandler, health *HealthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/healthz", health.Healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1/ptz", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		r.Post("/control", ptzHandler.Control)
	})
	return r
}
