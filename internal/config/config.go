// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are snake_case and nest with "." in files and "__" in env vars.
// - New returns a Config holding every default; Load layers sources on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Evaluator providers.
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory task queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the number of users tracked as in flight.
	DedupeSize int `koanf:"dedupe_size"`

	Database   Database   `koanf:"database"`
	Redis      Redis      `koanf:"redis"`
	Evaluator  Evaluator  `koanf:"evaluator"`
	Evaluation Evaluation `koanf:"evaluation"`
	Retry      Retry      `koanf:"retry"`
	Scheduler  Scheduler  `koanf:"scheduler"`
	Metrics    Metrics    `koanf:"metrics"`
}

// Database selects and tunes the listing store.
type Database struct {
	// Driver is "memory" or "postgres".
	Driver   string `koanf:"driver"`
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
	// Migrate applies the bundled schema on startup.
	Migrate bool `koanf:"migrate"`
}

// Redis configures the recommendation cache. An empty URL disables it.
type Redis struct {
	URL string        `koanf:"url"`
	TTL time.Duration `koanf:"ttl"`
}

// Evaluator configures the listing scorer.
type Evaluator struct {
	// Provider is "openai" or "static".
	Provider string        `koanf:"provider"`
	APIKey   string        `koanf:"api_key"`
	BaseURL  string        `koanf:"base_url"`
	Model    string        `koanf:"model"`
	Timeout  time.Duration `koanf:"timeout"`

	// StaticLatencyMin and StaticLatencyMax bound the simulated latency of
	// the static provider.
	StaticLatencyMin time.Duration `koanf:"static_latency_min"`
	StaticLatencyMax time.Duration `koanf:"static_latency_max"`
}

// Evaluation bounds a single run.
type Evaluation struct {
	MaxPerRun          int     `koanf:"max_per_run"`
	MinCreditThreshold float64 `koanf:"min_credit_threshold"`
}

// Retry configures task retries for transient failures.
type Retry struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
}

// Scheduler configures the periodic eligible-user sweep.
type Scheduler struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// Metrics shapes the Prometheus collectors. Env vars set buckets as a comma
// list and labels as nested keys, e.g. DWELL_METRICS__CONST_LABELS__ENV=prod.
type Metrics struct {
	Namespace       string            `koanf:"namespace"`
	Subsystem       string            `koanf:"subsystem"`
	RefreshInterval time.Duration     `koanf:"refresh_interval"`
	LatencyBuckets  []float64         `koanf:"latency_buckets"`
	ConstLabels     map[string]string `koanf:"const_labels"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Addr:        ":9080",
		QueueSize:   10_000,
		WorkerCount: runtime.NumCPU() * 2,
		DedupeSize:  100_000,
		Database: Database{
			Driver:   DriverMemory,
			MaxConns: 10,
			MinConns: 1,
			Migrate:  true,
		},
		Redis: Redis{
			TTL: 5 * time.Minute,
		},
		Evaluator: Evaluator{
			Provider:         ProviderStatic,
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			Timeout:          30 * time.Second,
			StaticLatencyMin: 50 * time.Millisecond,
			StaticLatencyMax: 150 * time.Millisecond,
		},
		Evaluation: Evaluation{
			MaxPerRun:          50,
			MinCreditThreshold: 0.10,
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseBackoff: 60 * time.Second,
			MaxBackoff:  10 * time.Minute,
		},
		Scheduler: Scheduler{
			Enabled:  true,
			Interval: 15 * time.Minute,
		},
		Metrics: Metrics{
			Namespace:       "dwell",
			Subsystem:       "matcher",
			RefreshInterval: 10 * time.Second,
		},
	}
}
