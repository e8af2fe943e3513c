// Package site serves the embedded leaderboard viewer.
package site

import (
	"context"
	"net/http"
)

// Register attaches the viewer to the root of mux. More specific API
// routes registered on the same mux take precedence.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("GET /", NewRootHandler())
}

// RootHandler serves the embedded viewer files.
type RootHandler struct {
	files http.Handler
}

// NewRootHandler creates a new root handler.
func NewRootHandler() *RootHandler {
	return &RootHandler{files: http.FileServer(FS())}
}

func (h *RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	h.files.ServeHTTP(w, r)
}
