// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/rhythmboard/internal/app"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (service.Stats, error)
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests. Without a store the static part
// of the stats is still returned, with status 503.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsProvider.Stats(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stats)
	case errors.Is(err, service.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, stats)
	default:
		writeJSON(w, http.StatusInternalServerError, stats)
	}
}
