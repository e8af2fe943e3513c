// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

// LeaderboardDependencies defines the interface for leaderboard reads.
type LeaderboardDependencies interface {
	TopN(ctx context.Context, trackID, difficulty string, limit int) ([]model.ScoreRecord, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps         LeaderboardDependencies
	defaultLimit int
	maxLimit     int
	logger       logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, defaultLimit, maxLimit int, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:         deps,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       l,
	}
}

// HandleGetLeaderboard handles GET /leaderboard/{trackId}?diff=&limit= requests.
// An unknown partition is an empty list, not an error.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), h.defaultLimit, h.maxLimit)

	recs, err := h.deps.TopN(r.Context(), r.PathValue("trackId"), difficultyParam(q), limit)
	if err != nil {
		writeError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromRecords(recs))
}
