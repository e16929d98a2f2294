// Package health serves liveness, readiness and status probes. Readiness
// runs backend checks in parallel; a failing required backend makes the
// instance not ready, a failing optional one only marks it degraded.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"healthcred/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc probes one backend and returns nil when it is usable.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

type check struct {
	fn       CheckFunc
	required bool
}

type Handler struct {
	startTime   time.Time
	environment string

	mu     sync.RWMutex
	checks map[string]check
}

func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		checks:      make(map[string]check),
	}
}

// RegisterCheck adds a backend the pipeline cannot run without (database,
// object store).
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.add(name, check{fn: fn, required: true})
}

// RegisterOptional adds a backend whose outage the pipeline rides out, such
// as the mapper cache or the outbox publisher's broker.
func (h *Handler) RegisterOptional(name string, fn CheckFunc) {
	h.add(name, check{fn: fn})
}

func (h *Handler) add(name string, c check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness answers 503 only when a required check fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := h.Ready(r.Context())
	status := http.StatusOK
	if resp.Status == StatusNotReady {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// Ready runs every check concurrently, each bounded by checkTimeout.
func (h *Handler) Ready(ctx context.Context) ReadinessResponse {
	h.mu.RLock()
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		resp = ReadinessResponse{Status: StatusReady, Checks: make(map[string]string, len(checks))}
	)
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.fn(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				resp.Checks[name] = "up"
				return
			}
			resp.Checks[name] = "down: " + err.Error()
			switch {
			case c.required:
				resp.Status = StatusNotReady
			case resp.Status == StatusReady:
				resp.Status = StatusDegraded
			}
		}()
	}
	wg.Wait()
	return resp
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
