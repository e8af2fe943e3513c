package backend_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/rhythmboard/internal/adapters/repository"
	"github.com/okian/rhythmboard/internal/adapters/repository/backend"
	"github.com/okian/rhythmboard/internal/domain/model"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given backend settings", t, func() {
		convey.Convey("The memory backend opens without external services", func() {
			s, err := backend.Open(ctx, backend.Settings{Backend: backend.Memory})
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Ping(ctx), convey.ShouldBeNil)
			convey.So(s.Close(), convey.ShouldBeNil)
		})

		convey.Convey("An empty name falls back to memory", func() {
			s, err := backend.Open(ctx, backend.Settings{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Close(), convey.ShouldBeNil)
		})

		convey.Convey("The none backend reports ErrNoBackend", func() {
			s, err := backend.Open(ctx, backend.Settings{Backend: backend.None})
			convey.So(s, convey.ShouldBeNil)
			convey.So(errors.Is(err, backend.ErrNoBackend), convey.ShouldBeTrue)
		})

		convey.Convey("An unknown name is rejected", func() {
			_, err := backend.Open(ctx, backend.Settings{Backend: "etcd"})
			convey.So(errors.Is(err, backend.ErrUnknownBackend), convey.ShouldBeTrue)
		})

		convey.Convey("The redis backend connects to the given URL", func() {
			mr := miniredis.RunT(t)
			s, err := backend.Open(ctx, backend.Settings{Backend: backend.Redis, RedisURL: "redis://" + mr.Addr() + "/0", PoolSize: 4})
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Ping(ctx), convey.ShouldBeNil)
			convey.So(s.Close(), convey.ShouldBeNil)
		})

		convey.Convey("An unreachable redis is reported as unavailable", func() {
			mr := miniredis.RunT(t)
			addr := mr.Addr()
			mr.Close()
			_, err := backend.Open(ctx, backend.Settings{Backend: backend.Redis, RedisURL: "redis://" + addr + "/0"})
			convey.So(errors.Is(err, repository.ErrUnavailable), convey.ShouldBeTrue)
		})

		convey.Convey("The sqlite backend creates its database file", func() {
			path := filepath.Join(t.TempDir(), "scores.db")
			s, err := backend.Open(ctx, backend.Settings{Backend: backend.SQLite, SQLitePath: path})
			convey.So(err, convey.ShouldBeNil)
			n, err := s.CountPartition(ctx, model.Partition{TrackID: "neon", Difficulty: model.Hard})
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 0)
			convey.So(s.Close(), convey.ShouldBeNil)
		})
	})
}
