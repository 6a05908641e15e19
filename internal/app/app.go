// Package app assembles the oracle pipeline from configuration. Both the
// CLI and the HTTP server build their runtime through it.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pbt-oracle/internal/api"
	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/circuitbreaker"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/harness"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/oracle"
	"github.com/pbt-oracle/internal/pbt"
	"github.com/pbt-oracle/internal/prover"
	"github.com/pbt-oracle/internal/ratelimit"
	"github.com/pbt-oracle/internal/storage"
	"github.com/pbt-oracle/internal/telemetry"
)

// App holds the wired pipeline and the connections it owns
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Runner   *backend.LeanRunner
	Oracle   *oracle.Oracle
	Tester   *pbt.Tester
	Harness  *harness.Harness
	Driver   *batch.Driver

	// Optional parts, nil when not configured
	Prover   *prover.OpenAIProver
	Runs     *storage.RunRepository
	postgres *storage.PostgresDB
	verdicts *storage.RedisVerdictCache
	tracer   *sdktrace.TracerProvider
}

// New connects the configured stores and builds the pipeline. Postgres,
// Redis, the model prover and span export are each optional.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	a := &App{Config: cfg}

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a.tracer = tp

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	var store oracle.CheckStore
	var client *redis.Client
	if cfg.Database.Redis.Host != "" {
		client, err = storage.NewRedisClient(&cfg.Database.Redis)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.verdicts = storage.NewRedisVerdictCache(client, cfg.Oracle.CacheTTL)
		store = a.verdicts
		logger.WithField("host", cfg.Database.Redis.Host).Info("Shared verdict cache enabled")
	}

	if cfg.Database.Postgres.Host != "" {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.postgres = db
		a.Runs = storage.NewRunRepository(db)
		logger.WithField("host", cfg.Database.Postgres.Host).Info("Run ledger enabled")
	}

	cache, err := oracle.NewCache(cfg.Oracle.CacheSize, store, a.Metrics)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	cache.WithNamespace(cfg.Backend.Toolchain())

	markers := backend.NewMarkers(cfg.Oracle.Profile.Markers)
	a.Runner = backend.NewLeanRunner(cfg.Backend, a.Metrics)
	checker := oracle.NewChecker(a.Runner, markers, cache)

	var p oracle.Prover
	if cfg.Prover.Enabled() {
		a.Prover = prover.NewOpenAIProver(cfg.Prover, prover.NewClient(cfg.Prover), checker.CheckFunc())
		p = a.Prover
		breaker := a.Prover.Breaker()
		a.Metrics.ObserveBreakerState(breaker.GetStats().Name, string(breaker.GetState()))
		breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
			a.Metrics.ObserveBreakerState(name, string(to))
		})
		if client != nil && cfg.Prover.SharedRPM > 0 {
			budget, err := ratelimit.NewBudget(&ratelimit.BudgetConfig{
				Redis: client,
				Name:  cfg.Prover.Model,
				Limit: cfg.Prover.SharedRPM,
			})
			if err != nil {
				a.Close(ctx)
				return nil, err
			}
			a.Prover.WithBudget(budget)
		}
		logger.WithField("model", cfg.Prover.Model).Info("Model proof fallback enabled")
	}

	a.Oracle = oracle.New(checker, cfg.Oracle.Profile, p, a.Metrics)
	a.Tester = pbt.NewTester(a.Runner, markers, a.Oracle, cfg.Sampling, a.Metrics)
	a.Harness = harness.New(a.Runner)

	var runs batch.RunStore
	if a.Runs != nil {
		runs = a.Runs
	}
	a.Driver = batch.NewDriver(a.Tester, a.Harness, runs, cfg.Batch, a.Metrics)

	return a, nil
}

// MetricsHandler serves the app's registry in the Prometheus text format
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// ServerOptions exposes the optional parts to the HTTP server
func (a *App) ServerOptions() []api.Option {
	opts := []api.Option{api.WithMetrics(a.MetricsHandler())}
	if a.Runs != nil {
		opts = append(opts, api.WithRunReader(a.Runs))
	}
	if a.postgres != nil {
		opts = append(opts, api.WithHealthCheck("postgres", a.postgres.Ping))
	}
	if a.verdicts != nil {
		opts = append(opts, api.WithHealthCheck("redis", a.verdicts.Ping))
	}
	if a.Prover != nil {
		opts = append(opts, api.WithBreaker(a.Prover.Breaker()))
	}
	return opts
}

// ServerConfig derives the HTTP server settings
func (a *App) ServerConfig() *api.ServerConfig {
	return &api.ServerConfig{
		Host:              a.Config.Server.Host,
		Port:              a.Config.Server.Port,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.Config.Backend.Timeout*3 + time.Minute,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerMinute: a.Config.RateLimit.RequestsPerMinute,
		Burst:             a.Config.RateLimit.Burst,
	}
}

// Close releases connections and flushes spans
func (a *App) Close(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if a.verdicts != nil {
		if err := a.verdicts.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if err := telemetry.Shutdown(ctx, a.tracer); err != nil {
		logger.WithError(err).Warn("Failed to flush spans")
	}
}
