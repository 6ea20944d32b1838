package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read outside the DWELL_ key space.
const (
	envPrefix     = "DWELL_"
	envConfigFile = "DWELL_CONFIG"
	envDotEnvFile = "DWELL_ENV_FILE"
	envOpenAIKey  = "OPENAI_API_KEY"
	defaultDotEnv = ".env"
	nestDelimiter = "__"
)

// listKeys are config keys whose env values are comma separated lists.
var listKeys = map[string]struct{}{ //nolint:gochecknoglobals // static key set
	"metrics.latency_buckets": {},
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if DWELL_CONFIG is set
//  3. env (prefix DWELL_, "__" separates nested keys), after loading a
//     dotenv file when one exists
func Load(_ context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// DWELL_DATABASE__URL -> database.url, DWELL_QUEUE_SIZE -> queue_size.
	// List keys take comma separated values.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		key = strings.ReplaceAll(key, nestDelimiter, ".")
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if cfg.Evaluator.APIKey == "" {
		cfg.Evaluator.APIKey = os.Getenv(envOpenAIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv exports variables from DWELL_ENV_FILE, or ./.env when unset.
// Variables already present in the environment win. A missing default file
// is not an error.
func loadDotEnv() error {
	path, explicit := os.LookupEnv(envDotEnvFile)
	if !explicit || path == "" {
		path = defaultDotEnv
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, path, err)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.QueueSize <= 0:
		return invalid("queue_size must be positive")
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive")
	case c.DedupeSize <= 0:
		return invalid("dedupe_size must be positive")
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url is required for the postgres driver")
		}
		if c.Database.MinConns > c.Database.MaxConns {
			return invalid("database.min_conns cannot exceed database.max_conns")
		}
	default:
		return invalid(fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}

	switch c.Evaluator.Provider {
	case ProviderStatic:
		if c.Evaluator.StaticLatencyMin < 0 || c.Evaluator.StaticLatencyMax < c.Evaluator.StaticLatencyMin {
			return invalid("evaluator static latency range is invalid")
		}
	case ProviderOpenAI:
		if c.Evaluator.APIKey == "" {
			return invalid("evaluator.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	default:
		return invalid(fmt.Sprintf("unknown evaluator.provider %q", c.Evaluator.Provider))
	}

	switch {
	case c.Evaluator.Timeout <= 0:
		return invalid("evaluator.timeout must be positive")
	case c.Evaluation.MaxPerRun <= 0:
		return invalid("evaluation.max_per_run must be positive")
	case c.Evaluation.MinCreditThreshold < 0:
		return invalid("evaluation.min_credit_threshold cannot be negative")
	case c.Retry.MaxAttempts < 1:
		return invalid("retry.max_attempts must be at least 1")
	case c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff:
		return invalid("retry backoff range is invalid")
	case c.Scheduler.Enabled && c.Scheduler.Interval <= 0:
		return invalid("scheduler.interval must be positive when the scheduler is enabled")
	case c.Metrics.Namespace == "":
		return invalid("metrics.namespace must not be empty")
	case c.Metrics.RefreshInterval <= 0:
		return invalid("metrics.refresh_interval must be positive")
	}
	for i := 1; i < len(c.Metrics.LatencyBuckets); i++ {
		if c.Metrics.LatencyBuckets[i] <= c.Metrics.LatencyBuckets[i-1] {
			return invalid("metrics.latency_buckets must be strictly increasing")
		}
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
