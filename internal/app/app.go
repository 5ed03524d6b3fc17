// Package app wires the application together: database pool,
// migrations, the generation engine and every component serving the
// HTTP surface.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/finalize"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tool"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool

	Store      *session.Store
	Engine     *engine.Engine
	Registry   *tool.Registry
	Finalizer  *finalize.Finalizer
	Controller *chat.Controller
	Server     *api.Server
}

// Close releases all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}
