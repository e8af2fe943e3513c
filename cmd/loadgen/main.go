package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rhythmboard/internal/loadgen"
	"github.com/okian/rhythmboard/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadgen.DefaultConfig()
	var (
		runTimeout time.Duration
		logFormat  string
	)
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Submit generated results concurrently and verify the boards",
		Example: `  loadgen --url http://localhost:9080
  loadgen --tracks 8 --players 2000 --attempts 3 --workers 32 --seed 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithFormat(logFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return err
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()

			_, err := loadgen.Run(ctx, cfg, logger.Named("loadgen"))
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	f.IntVar(&cfg.Tracks, "tracks", cfg.Tracks, "number of tracks")
	f.IntVar(&cfg.Players, "players", cfg.Players, "players per track")
	f.IntVar(&cfg.Attempts, "attempts", cfg.Attempts, "attempts per player")
	f.IntVar(&cfg.Limit, "limit", cfg.Limit, "page size when reading boards back")
	f.IntVar(&cfg.RankChecks, "rank-checks", cfg.RankChecks, "players per track whose rank is verified")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent HTTP workers")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	f.Uint64Var(&cfg.Seed, "seed", 0, "generator seed (0 picks one)")
	f.StringVar(&cfg.OutputFile, "output", "", "write generated submissions to this JSON file")
	f.BoolVar(&cfg.Verbose, "verbose", false, "log every failed request")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "overall deadline")
	f.StringVar(&logFormat, "log-format", "text", "text or json")
	return cmd
}
