// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	RankOf(ctx context.Context, trackID, difficulty, name string) (service.RankResult, error)
	Configured() bool
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps   RankDependencies
	logger logger.Logger
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies, l logger.Logger) *RankHandler {
	return &RankHandler{deps: deps, logger: l}
}

// HandleGetRank handles GET /leaderboard/{trackId}/rank?diff=&name= requests.
// A player without a retained record gets rank null.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	if !h.deps.Configured() {
		writeError(w, r, h.logger, Wrap(op, service.ErrNotConfigured))
		return
	}
	q := r.URL.Query()
	if !q.Has("name") {
		writeError(w, r, h.logger, NewKind(op, ErrBadRequest))
		return
	}

	res, err := h.deps.RankOf(r.Context(), r.PathValue("trackId"), difficultyParam(q), q.Get("name"))
	if err != nil {
		writeError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.RankResponse{
		OK:         true,
		TrackID:    res.Key.TrackID,
		Difficulty: string(res.Key.Difficulty),
		Name:       res.Key.PlayerName,
		Rank:       res.Rank,
		Total:      res.Total,
	})
}
