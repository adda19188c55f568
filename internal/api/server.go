// Package api exposes the assistant over HTTP.
//
// Endpoints:
//
//	POST /api/chat                          - one chat turn, streamed as SSE
//	GET  /auth/callback                     - OAuth redirect target
//	GET  /api/conversations/{id}/messages   - conversation history
//	GET  /health                            - liveness probe
//	GET  /ready                             - readiness probe
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/orchestrator"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout closes idle keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ChatRunner executes one conversation turn. Satisfied by
// orchestrator.Orchestrator.
type ChatRunner interface {
	Run(ctx context.Context, req orchestrator.Request, emit orchestrator.Emitter) error
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Runner        ChatRunner
	Exchanger     TokenExchanger
	Tokens        TokenStore
	Conversations ConversationReader
	Pool          *pgxpool.Pool // nil degrades /ready to 503
	DefaultShopID string        // used when a chat request omits shop_id
	Logger        log.Logger
}

// Server is the assistant's HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates the server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()

	health := &HealthHandler{pool: cfg.Pool, logger: logger}
	health.RegisterRoutes(mux)

	chat := &ChatHandler{runner: cfg.Runner, defaultShopID: cfg.DefaultShopID, logger: logger}
	chat.RegisterRoutes(mux)

	authCB := &AuthHandler{exchanger: cfg.Exchanger, tokens: cfg.Tokens, logger: logger}
	authCB.RegisterRoutes(mux)

	conv := &ConversationHandler{store: cfg.Conversations, logger: logger}
	conv.RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger}
}

// Handler returns the server with middleware applied.
// Order: recovery, then logging, then routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
		// No WriteTimeout: chat turns stream for as long as the model and
		// its tools take. Per-request deadlines belong to the handlers.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
