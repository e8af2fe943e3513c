package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/rhythmboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "memory")
				convey.So(cfg.MaxPerPartition, convey.ShouldEqual, 100)
				convey.So(cfg.OpTimeoutMS, convey.ShouldEqual, 2000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RHYTHM_ADDR", ":8080")
			_ = os.Setenv("RHYTHM_STORE_BACKEND", "sqlite")
			_ = os.Setenv("RHYTHM_SQLITE_PATH", "/tmp/scores.db")
			_ = os.Setenv("RHYTHM_MAX_PER_PARTITION", "25")
			_ = os.Setenv("RHYTHM_PRUNE_WORKERS", "4")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "sqlite")
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/scores.db")
				convey.So(cfg.MaxPerPartition, convey.ShouldEqual, 25)
				convey.So(cfg.PruneWorkers, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
# listen on a custom port
addr: ":9090"
store_backend: redis
redis_url: "redis://cache:6379/2"
pool_size: 32
op_timeout_ms: 750
prune_sweep_interval_ms: 60000
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("RHYTHM_CONFIG", tmpFile)
			_ = os.Setenv("RHYTHM_POOL_SIZE", "8") // overrides the file

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "redis")
				convey.So(cfg.RedisURL, convey.ShouldEqual, "redis://cache:6379/2")
				convey.So(cfg.PoolSize, convey.ShouldEqual, 8)
				convey.So(cfg.OpTimeoutMS, convey.ShouldEqual, 750)
				convey.So(cfg.PruneSweepIntervalMS, convey.ShouldEqual, 60000)
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 200) // default kept
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RHYTHM_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("RHYTHM_CONFIG", "/non/existent/rhythm.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown backend", func() {
			_ = os.Setenv("RHYTHM_STORE_BACKEND", "cassandra")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("RHYTHM_POOL_SIZE", "many")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"RHYTHM_CONFIG",
		"RHYTHM_ADDR",
		"RHYTHM_STORE_BACKEND",
		"RHYTHM_SQLITE_PATH",
		"RHYTHM_MAX_PER_PARTITION",
		"RHYTHM_PRUNE_WORKERS",
		"RHYTHM_POOL_SIZE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "rhythm-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
