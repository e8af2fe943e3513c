package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/adapters/repository/backend"
	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/config"
	"github.com/okian/rhythmboard/pkg/logger"
)

// env is shared by every subcommand once the root has loaded configuration.
type env struct {
	configPath string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "rhythmboard",
		Short:         "Ranked score store for rhythm game charts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "YAML config file (overrides "+config.EnvConfigPath+")")

	root.AddCommand(
		newServeCmd(e),
		newPruneCmd(e),
		newTopCmd(e),
		newRankCmd(e),
	)
	return root
}

// load reads configuration (defaults -> optional file -> env) and
// initializes logging from it.
func (e *env) load(ctx context.Context) error {
	if e.configPath != "" {
		if err := os.Setenv(config.EnvConfigPath, e.configPath); err != nil {
			return fmt.Errorf("failed to set config path: %w", err)
		}
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(os.Stderr)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	e.cfg = cfg
	e.log = logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		e.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// openStore connects to the configured backend. A nil store with a nil
// error means the "none" backend was selected.
func (e *env) openStore(ctx context.Context) (repository.Store, error) {
	store, err := backend.Open(ctx, backend.Settings{
		Backend:     e.cfg.StoreBackend,
		RedisURL:    e.cfg.RedisURL,
		PostgresDSN: e.cfg.PostgresDSN,
		SQLitePath:  e.cfg.SQLitePath,
		PoolSize:    e.cfg.PoolSize,
	})
	if errors.Is(err, backend.ErrNoBackend) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", e.cfg.StoreBackend, err)
	}
	return store, nil
}

// newService builds the service from configuration. store may be nil.
func (e *env) newService(store repository.Store) *service.Service {
	opts := []service.Option{
		service.WithLogger(e.log.Named("leaderboard")),
		service.WithMaxPerPartition(e.cfg.MaxPerPartition),
		service.WithOpTimeout(e.cfg.OpTimeout()),
		service.WithPruneWorkers(e.cfg.PruneWorkers),
		service.WithPruneQueueSize(e.cfg.PruneQueueSize),
		service.WithSweepInterval(e.cfg.PruneSweepInterval()),
		service.WithStatsInterval(e.cfg.StatsInterval()),
	}
	if store != nil {
		opts = append(opts, service.WithStore(store, e.cfg.StoreBackend))
	}
	return service.New(opts...)
}

// withStore runs fn against a service over the configured store and closes
// the store afterwards. Commands that need data fail without a store.
func (e *env) withStore(ctx context.Context, fn func(*service.Service) error) error {
	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return backend.ErrNoBackend
	}
	defer func() {
		if err := store.Close(); err != nil {
			e.log.Warn(ctx, "failed to close store", logger.Error(err))
		}
	}()
	return fn(e.newService(store))
}
