// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/pkg/metrics"
)

// ReadyChecker reports whether the store can serve requests.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// HealthHandler handles liveness, readiness and metrics requests.
type HealthHandler struct {
	ready   ReadyChecker
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(ready ReadyChecker) *HealthHandler {
	return &HealthHandler{
		ready:   ready,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz requests with the Prometheus exposition
// of the service registry.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleReady handles GET /readyz requests by pinging the store.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	err := h.ready.Ready(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
	case errors.Is(err, service.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_configured"})
	default:
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Error: err.Error()})
	}
}
