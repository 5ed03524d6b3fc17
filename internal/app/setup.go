package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/finalize"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tool"
)

// Setup creates and initializes the application. On any failure,
// everything already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Store = session.New(pool, logger)
	a.Engine = engine.New(g, cfg.ModelName)
	a.Registry = tool.NewRegistry(a.Store, logger)
	a.Finalizer = finalize.New(a.Store, a.Engine, logger)
	a.Controller = chat.NewController(a.Store, a.Engine, a.Registry, a.Finalizer, logger)

	srv, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Store:       a.Store,
		Regenerator: a.Finalizer,
		Chat:        a.Controller,
		ModelName:   cfg.ModelName,
	})
	if err != nil {
		return nil, err
	}
	a.Server = srv

	return a, nil
}

// provideDBPool runs migrations and creates the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. The
// GEMINI_API_KEY environment variable supplies credentials.
func provideGenkit(ctx context.Context, logger *slog.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	logger.Info("initialized genkit with gemini provider")
	return g, nil
}
