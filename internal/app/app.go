// Package app assembles the assistant: configuration, storage, the rule
// engine, the model client and the HTTP server. Setup builds everything in
// dependency order and Close releases it in reverse.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

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

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool          *pgxpool.Pool
	Cache         *store.Cache
	Conversations *store.Conversations

	Engine       *intent.Engine
	Auth         *auth.Manager
	ToolClient   *toolserver.Client
	Model        *model.Client
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server

	otelCleanup func()
}

// Close releases all resources in reverse construction order.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("closing cache", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
