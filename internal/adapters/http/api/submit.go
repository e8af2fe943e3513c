// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/scoring"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

// SubmitDependencies defines the interface for score submission.
type SubmitDependencies interface {
	Submit(ctx context.Context, in scoring.Input) (service.SubmitResult, error)
	Configured() bool
}

// SubmitHandler handles score submissions.
type SubmitHandler struct {
	deps   SubmitDependencies
	logger logger.Logger
}

// NewSubmitHandler creates a new submit handler.
func NewSubmitHandler(deps SubmitDependencies, l logger.Logger) *SubmitHandler {
	return &SubmitHandler{deps: deps, logger: l}
}

// HandlePostSubmit handles POST /leaderboard/submit requests.
func (h *SubmitHandler) HandlePostSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submit"
	if !h.deps.Configured() {
		writeError(w, r, h.logger, Wrap(op, service.ErrNotConfigured))
		return
	}

	var req types.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.logger, WrapKind(op, ErrTooLarge, err))
			return
		}
		writeError(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Submit(r.Context(), scoring.Input{
		TrackID:    req.TrackID,
		Difficulty: req.Difficulty,
		Name:       req.Name,
		Score:      req.Score,
		Accuracy:   req.Acc,
		Combo:      req.Combo,
	})
	if err != nil {
		writeError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.SubmitResponse{
		OK:       true,
		Rank:     res.Rank,
		Total:    res.Total,
		Improved: res.Improved,
	})
}
