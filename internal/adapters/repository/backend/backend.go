// Package backend opens the configured score store.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/adapters/repository/pgstore"
	"github.com/okian/rhythmboard/internal/adapters/repository/redisstore"
	"github.com/okian/rhythmboard/internal/adapters/repository/sqlitestore"
)

// Backend names.
const (
	Memory   = "memory"
	Redis    = "redis"
	Postgres = "postgres"
	SQLite   = "sqlite"
	None     = "none"
)

// Sentinel errors.
var (
	ErrNoBackend      = errors.New("no store backend configured")
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Settings selects and sizes a backend.
type Settings struct {
	Backend     string
	RedisURL    string
	PostgresDSN string
	SQLitePath  string
	PoolSize    int
}

// Open connects to the backend named in s and returns it wrapped with
// metrics instrumentation. The "none" backend yields ErrNoBackend.
func Open(ctx context.Context, s Settings) (repository.Store, error) {
	var (
		store repository.Store
		err   error
	)
	switch s.Backend {
	case Memory, "":
		store = repository.NewTreapStore()
		s.Backend = Memory
	case Redis:
		store, err = redisstore.Open(ctx, s.RedisURL, s.PoolSize)
	case Postgres:
		store, err = pgstore.Open(ctx, s.PostgresDSN, s.PoolSize)
	case SQLite:
		store, err = sqlitestore.Open(ctx, s.SQLitePath)
	case None:
		return nil, ErrNoBackend
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.Backend, err)
	}
	return repository.Instrument(store, s.Backend), nil
}
