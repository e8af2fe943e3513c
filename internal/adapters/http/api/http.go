// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/types"
	"github.com/okian/rhythmboard/pkg/logger"
)

// Default request bounds.
const (
	defaultLimit    = 50
	defaultMaxLimit = 200
	maxBodyBytes    = 16 << 10
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LeaderboardDependencies
	SubmitDependencies
	RankDependencies
	ReadyChecker
	StatsProvider
}

var _ Dependencies = (*service.Service)(nil)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithLimits sets the default and maximum leaderboard page size.
func WithLimits(defaultN, maxN int) Option {
	return func(s *Server) {
		if maxN > 0 {
			s.maxLimit = maxN
		}
		if defaultN > 0 && defaultN <= s.maxLimit {
			s.defaultLimit = defaultN
		}
	}
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) {
		s.corsOrigin = origin
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	defaultLimit int
	maxLimit     int
	corsOrigin   string
	logger       logger.Logger

	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	submitHandler      *SubmitHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		defaultLimit: defaultLimit,
		maxLimit:     defaultMaxLimit,
		corsOrigin:   "*",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}

	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.submitHandler = NewSubmitHandler(deps, s.logger)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.defaultLimit, s.maxLimit, s.logger)
	s.rankHandler = NewRankHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /readyz", MetricsMiddleware(s.healthHandler.HandleReady, "readyz"))
	mux.HandleFunc("GET /stats", s.chain(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /leaderboard/submit", s.chain(s.submitHandler.HandlePostSubmit, "submit"))
	mux.HandleFunc("GET /leaderboard/{trackId}", s.chain(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /leaderboard/{trackId}/rank", s.chain(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("OPTIONS /leaderboard/", s.chain(handlePreflight, "preflight"))
}

// chain applies the middleware shared by every browser-facing route.
func (s *Server) chain(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return RequestIDMiddleware(CORSMiddleware(MetricsMiddleware(next, endpoint), s.corsOrigin))
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {ok:false, error}. Server-side failures are
// logged with the request id; the client only sees the status text.
func writeError(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		l.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", RequestID(r.Context())),
			logger.Error(err),
		)
		msg = http.StatusText(status)
		if status == http.StatusServiceUnavailable {
			msg = "leaderboard unavailable"
		}
	}
	writeJSON(w, status, types.ErrorResponse{OK: false, Error: msg, Code: code})
}
