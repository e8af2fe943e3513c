package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rhythmboard/internal/adapters/http/api"
	"github.com/okian/rhythmboard/internal/adapters/http/site"
	"github.com/okian/rhythmboard/internal/adapters/http/swagger"
	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				e.cfg.Addr = addr
			}
			ln, err := net.Listen("tcp", e.cfg.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", e.cfg.Addr, err)
			}
			return e.serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides addr)")
	return cmd
}

// newMux registers the viewer, docs and API routes for svc.
func (e *env) newMux(ctx context.Context, svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	site.Register(ctx, mux)
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithLimits(e.cfg.DefaultLeaderboardLimit, e.cfg.MaxLeaderboardLimit),
		api.WithCORSOrigin(e.cfg.CORSOrigin),
		api.WithLogger(e.log.Named("api")),
	).Register(ctx, mux)
	return mux
}

// serve runs the API on ln until ctx is cancelled, then drains in-flight
// requests and stops background work. A missing store is not fatal: the
// process stays up and answers 503 so orchestrators can see why.
func (e *env) serve(ctx context.Context, ln net.Listener) error {
	store, err := e.openStore(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				e.log.Error(ctx, "failed to close store", logger.Error(err))
			}
		}()
	}

	svc := e.newService(store)
	if err := svc.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	srv := &http.Server{
		Handler:           e.newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	e.log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	svc.Stop(shutdownCtx)

	e.log.Info(ctx, "server stopped")
	if serveErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serveErr)
	}
	return nil
}
