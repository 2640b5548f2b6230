package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// checkTimeout bounds each readiness probe.
const checkTimeout = 2 * time.Second

// HealthServer answers liveness and readiness probes for the supervisor.
// Readiness needs both the ready flag and every registered check to pass.
type HealthServer struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
}

func NewHealthServer() *HealthServer {
	return &HealthServer{checks: make(map[string]Check)}
}

// SetReady is set by the supervisor while its workers run.
func (h *HealthServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddCheck registers a readiness probe under name, replacing any probe
// already registered with that name.
func (h *HealthServer) AddCheck(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz, plus /metrics from gatherer when it
// is non-nil.
func (h *HealthServer) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, healthBody{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", h.serveReady)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *HealthServer) serveReady(w http.ResponseWriter, r *http.Request) {
	results, failed := h.runChecks(r.Context())
	body := healthBody{Status: "ready", Checks: results}
	code := http.StatusOK
	switch {
	case !h.ready.Load():
		body.Status = "not ready"
		code = http.StatusServiceUnavailable
	case failed:
		body.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respond(w, code, body)
}

func (h *HealthServer) runChecks(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	if len(checks) == 0 {
		return nil, false
	}
	results := make(map[string]string, len(checks))
	failed := false
	for name, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c(cctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			failed = true
			continue
		}
		results[name] = "ok"
	}
	return results, failed
}

func respond(w http.ResponseWriter, code int, body healthBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
