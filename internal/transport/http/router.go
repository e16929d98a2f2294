// Package httptransport is the thin HTTP layer over the submission pipeline.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthcred/internal/platform/health"
	"healthcred/pkg/platform/middleware/request"
	"healthcred/pkg/platform/middleware/requesttime"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	Timeout time.Duration
	Metrics *request.Metrics
	Health  *health.Handler
}

// NewRouter wires the middleware stack, the health probes, the Prometheus
// scrape endpoint and the pipeline routes.
func NewRouter(h *Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(cfg.Metrics))
	r.Use(requesttime.Middleware)

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.Timeout))
		r.Use(request.ContentTypeJSON)
		h.Register(r)
	})
	return r
}
