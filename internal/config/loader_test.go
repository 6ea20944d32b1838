package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwellhq/dwell/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.Scheduler.Interval, convey.ShouldEqual, 15*time.Minute)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DWELL_ADDR", ":8080")
			_ = os.Setenv("DWELL_QUEUE_SIZE", "500")
			_ = os.Setenv("DWELL_WORKER_COUNT", "16")
			_ = os.Setenv("DWELL_DATABASE__DRIVER", "postgres")
			_ = os.Setenv("DWELL_DATABASE__URL", "postgres://dwell@localhost/dwell")
			_ = os.Setenv("DWELL_DATABASE__MAX_CONNS", "20")
			_ = os.Setenv("DWELL_EVALUATOR__TIMEOUT", "45s")
			_ = os.Setenv("DWELL_EVALUATION__MIN_CREDIT_THRESHOLD", "0.25")
			_ = os.Setenv("DWELL_SCHEDULER__ENABLED", "false")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults, including nested keys", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Database.Driver, convey.ShouldEqual, config.DriverPostgres)
				convey.So(cfg.Database.URL, convey.ShouldEqual, "postgres://dwell@localhost/dwell")
				convey.So(cfg.Database.MaxConns, convey.ShouldEqual, 20)
				convey.So(cfg.Database.MinConns, convey.ShouldEqual, 1)
				convey.So(cfg.Evaluator.Timeout, convey.ShouldEqual, 45*time.Second)
				convey.So(cfg.Evaluation.MinCreditThreshold, convey.ShouldEqual, 0.25)
				convey.So(cfg.Scheduler.Enabled, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the metrics section is set through the environment", func() {
			_ = os.Setenv("DWELL_METRICS__NAMESPACE", "dwell_staging")
			_ = os.Setenv("DWELL_METRICS__LATENCY_BUCKETS", "1, 5,25,100")
			_ = os.Setenv("DWELL_METRICS__CONST_LABELS__ENV", "staging")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then lists and labels should be decoded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "dwell_staging")
				convey.So(cfg.Metrics.Subsystem, convey.ShouldEqual, "matcher")
				convey.So(cfg.Metrics.LatencyBuckets, convey.ShouldResemble, []float64{1, 5, 25, 100})
				convey.So(cfg.Metrics.ConstLabels, convey.ShouldResemble, map[string]string{"env": "staging"})
			})
		})

		convey.Convey("When metrics buckets are not increasing", func() {
			_ = os.Setenv("DWELL_METRICS__LATENCY_BUCKETS", "10,5")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation should reject them", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "latency_buckets")
			})
		})

		convey.Convey("When loading config with a YAML file and env overrides", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
worker_count: 24
redis:
  url: "redis://localhost:6379/0"
  ttl: 90s
evaluator:
  provider: openai
  api_key: from-file
  model: gpt-4o
retry:
  max_attempts: 5
`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("DWELL_CONFIG", tmpFile)
			_ = os.Setenv("DWELL_WORKER_COUNT", "32")
			_ = os.Setenv("DWELL_EVALUATOR__MODEL", "gpt-4o-mini")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then env should win over the file and defaults fill the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.Redis.URL, convey.ShouldEqual, "redis://localhost:6379/0")
				convey.So(cfg.Redis.TTL, convey.ShouldEqual, 90*time.Second)
				convey.So(cfg.Evaluator.Provider, convey.ShouldEqual, config.ProviderOpenAI)
				convey.So(cfg.Evaluator.APIKey, convey.ShouldEqual, "from-file")
				convey.So(cfg.Evaluator.Model, convey.ShouldEqual, "gpt-4o-mini")
				convey.So(cfg.Evaluator.BaseURL, convey.ShouldEqual, "https://api.openai.com/v1")
				convey.So(cfg.Retry.MaxAttempts, convey.ShouldEqual, 5)
				convey.So(cfg.Retry.BaseBackoff, convey.ShouldEqual, time.Minute)
			})
		})

		convey.Convey("When the openai provider takes its key from OPENAI_API_KEY", func() {
			_ = os.Setenv("DWELL_EVALUATOR__PROVIDER", "openai")
			_ = os.Setenv("OPENAI_API_KEY", "sk-test")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then the key should be picked up", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Evaluator.APIKey, convey.ShouldEqual, "sk-test")
			})
		})

		convey.Convey("When a dotenv file is named explicitly", func() {
			path := filepath.Join(t.TempDir(), "dwell.env")
			convey.So(os.WriteFile(path, []byte("DWELL_ADDR=:7070\nDWELL_QUEUE_SIZE=42\n"), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("DWELL_ENV_FILE", path)
			_ = os.Setenv("DWELL_QUEUE_SIZE", "7")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then its values should load without overriding the environment", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 7)
			})
		})

		convey.Convey("When the named dotenv file does not exist", func() {
			_ = os.Setenv("DWELL_ENV_FILE", "/non/existent/dwell.env")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("DWELL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DWELL_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("DWELL_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("DWELL_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with negative values", func() {
			_ = os.Setenv("DWELL_WORKER_COUNT", "-10")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation should reject them", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "worker_count must be positive")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"DWELL_CONFIG",
		"DWELL_ENV_FILE",
		"DWELL_ADDR",
		"DWELL_QUEUE_SIZE",
		"DWELL_WORKER_COUNT",
		"DWELL_DATABASE__DRIVER",
		"DWELL_DATABASE__URL",
		"DWELL_DATABASE__MAX_CONNS",
		"DWELL_EVALUATOR__PROVIDER",
		"DWELL_EVALUATOR__MODEL",
		"DWELL_EVALUATOR__TIMEOUT",
		"DWELL_EVALUATION__MIN_CREDIT_THRESHOLD",
		"DWELL_SCHEDULER__ENABLED",
		"DWELL_METRICS__NAMESPACE",
		"DWELL_METRICS__LATENCY_BUCKETS",
		"DWELL_METRICS__CONST_LABELS__ENV",
		"OPENAI_API_KEY",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "dwell-config-*.yaml")
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
