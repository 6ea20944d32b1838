package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dwellhq/dwell/internal/adapters/cache"
	"github.com/dwellhq/dwell/internal/adapters/evaluator"
	"github.com/dwellhq/dwell/internal/adapters/http/api"
	"github.com/dwellhq/dwell/internal/adapters/repository"
	service "github.com/dwellhq/dwell/internal/app"
	"github.com/dwellhq/dwell/internal/config"
	"github.com/dwellhq/dwell/internal/domain/retry"
	"github.com/dwellhq/dwell/internal/domain/scoring"
	"github.com/dwellhq/dwell/pkg/logger"
	"github.com/dwellhq/dwell/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		return fmt.Errorf("invalid log_format: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	metrics.Configure(metricsOptions(cfg)...)

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	recCache := cache.New(ctx, cfg.Redis.URL, cache.WithTTL(cfg.Redis.TTL))
	defer func() { _ = recCache.Close() }()

	ev, err := newEvaluator(cfg)
	if err != nil {
		return err
	}

	svc := service.New(store, ev, serviceOptions(cfg, recCache, log)...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	go metrics.RunSystemCollector(ctx)

	mux := http.NewServeMux()
	api.NewServer(svc, svc, service.MaxRecommendationLimit).Register(ctx, mux)
	srv := newHTTPServer(cfg.Addr, mux)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newStore opens the configured store, applying the schema to Postgres when
// migrations are enabled.
func newStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		logger.Get().Warn(ctx, "using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	pool, err := repository.NewPool(ctx, cfg.Database.URL,
		repository.WithMaxConns(cfg.Database.MaxConns),
		repository.WithMinConns(cfg.Database.MinConns),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := repository.NewPostgresStore(pool)
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// newEvaluator builds the configured listing scorer.
func newEvaluator(cfg *config.Config) (scoring.Evaluator, error) {
	ec := cfg.Evaluator
	if ec.Provider != config.ProviderOpenAI {
		return evaluator.NewStatic(
			evaluator.WithLatencyRange(ec.StaticLatencyMin, ec.StaticLatencyMax),
			evaluator.WithStaticModel(ec.Model),
		), nil
	}
	client, err := evaluator.NewOpenAI(ec.APIKey,
		evaluator.WithBaseURL(ec.BaseURL),
		evaluator.WithModel(ec.Model),
		evaluator.WithTimeout(ec.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	return client, nil
}

func serviceOptions(cfg *config.Config, c service.RecommendationCache, log logger.Logger) []service.Option {
	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithCache(c),
		service.WithMaxEvaluationsPerRun(cfg.Evaluation.MaxPerRun),
		service.WithMinCreditThreshold(cfg.Evaluation.MinCreditThreshold),
		service.WithRetryPolicy(retry.NewPolicy(
			retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
			retry.WithBaseBackoff(cfg.Retry.BaseBackoff),
			retry.WithMaxBackoff(cfg.Retry.MaxBackoff),
		)),
	}
	if cfg.Scheduler.Enabled {
		opts = append(opts, service.WithSchedulerInterval(cfg.Scheduler.Interval))
	}
	return opts
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithSubsystem(cfg.Metrics.Subsystem),
		metrics.WithRefreshInterval(cfg.Metrics.RefreshInterval),
		metrics.WithHistogramBuckets(cfg.Metrics.LatencyBuckets),
		metrics.WithConstLabels(cfg.Metrics.ConstLabels),
	}
}
