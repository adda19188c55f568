package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/vadf/assistant/db"
	"github.com/vadf/assistant/internal/accounts"
	"github.com/vadf/assistant/internal/api"
	"github.com/vadf/assistant/internal/auth"
	"github.com/vadf/assistant/internal/config"
	"github.com/vadf/assistant/internal/intent"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/model"
	"github.com/vadf/assistant/internal/orchestrator"
	"github.com/vadf/assistant/internal/store"
	"github.com/vadf/assistant/internal/toolserver"
)

// Setup builds the application in dependency order. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Conversations = store.NewConversations(pool, logger)

	cache, err := store.NewCache(cfg.RedisURL, cfg.EndpointTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.Cache = cache

	// An invalid rule set is a build defect, not a runtime condition.
	engine, err := intent.Load()
	if err != nil {
		return nil, fmt.Errorf("loading intent rules: %w", err)
	}
	a.Engine = engine

	a.Auth = auth.NewManager(cfg, cache, logger)
	a.ToolClient = toolserver.NewClient(cfg, cache, logger)

	mdl, err := model.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.Model = mdl

	var lookup orchestrator.AccountLookup
	if cfg.AccountAPIURL != "" {
		lookup = accounts.NewClient(cfg.AccountAPIURL, cfg.ToolTimeout, logger)
	}

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Engine:   engine,
		Store:    a.Conversations,
		Tokens:   cache,
		Auth:     a.Auth,
		Dialer:   &toolDialer{client: a.ToolClient},
		Model:    mdl,
		Accounts: lookup,
		MaxTurns: cfg.MaxTurns,
		Logger:   logger,
	})

	a.Server = api.NewServer(api.ServerConfig{
		Runner:        a.Orchestrator,
		Exchanger:     a.Auth,
		Tokens:        cache,
		Conversations: a.Conversations,
		Pool:          pool,
		DefaultShopID: cfg.ShopID,
		Logger:        logger,
	})

	return a, nil
}

// provideOtelShutdown wires the OTLP HTTP trace exporter pointing at a
// local Datadog Agent. The Agent handles authentication and forwarding, so
// a missing Agent only disables tracing.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	dd := cfg.Datadog

	agentHost := dd.AgentHost
	if agentHost == "" {
		agentHost = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(dd.ServiceName),
		semconv.DeploymentEnvironment(dd.Environment),
	))
	if err != nil {
		logger.Warn("building trace resource, tracing disabled", "error", err)
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", dd.ServiceName,
		"environment", dd.Environment,
	)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
