// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/server/handler"
	"github.com/alanyoungcy/botledger/internal/server/middleware"
	"github.com/alanyoungcy/botledger/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey gates every route but /api/health; empty disables it.
	APIKey string
	// MaxSkew bounds signed request timestamps.
	MaxSkew time.Duration
	// RateLimit is requests per RateWindow per client; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health      *handler.HealthHandler
	Config      *handler.ConfigHandler
	Delegations *handler.DelegationHandler
	Positions   *handler.PositionHandler
	Events      *handler.EventHandler
}

// Options carries optional collaborators.
type Options struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Nonces  domain.NonceStore
}

// Server is the ledger API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, API key, request signature, rate limit.
func NewServer(cfg Config, h Handlers, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/config", h.Config.Initialize)
	mux.HandleFunc("GET /api/config", h.Config.Get)
	mux.HandleFunc("POST /api/config/pause", h.Config.Pause)
	mux.HandleFunc("POST /api/config/resume", h.Config.Resume)
	mux.HandleFunc("PUT /api/config/authorities", h.Config.SetAuthorities)

	mux.HandleFunc("POST /api/delegations", h.Delegations.Create)
	mux.HandleFunc("GET /api/delegations", h.Delegations.List)
	mux.HandleFunc("GET /api/delegations/{user}", h.Delegations.Get)
	mux.HandleFunc("GET /api/delegations/{user}/stats", h.Delegations.Stats)
	mux.HandleFunc("PATCH /api/delegations/{user}", h.Delegations.Update)
	mux.HandleFunc("POST /api/delegations/{user}/revoke", h.Delegations.Revoke)
	mux.HandleFunc("POST /api/delegations/{user}/rotate", h.Delegations.Rotate)
	mux.HandleFunc("DELETE /api/delegations/{user}", h.Delegations.Close)

	mux.HandleFunc("POST /api/delegations/{user}/positions", h.Positions.Open)
	mux.HandleFunc("GET /api/delegations/{user}/positions", h.Positions.List)
	mux.HandleFunc("GET /api/positions/{delegation}/{seq}", h.Positions.Get)
	mux.HandleFunc("POST /api/positions/{delegation}/{seq}/close", h.Positions.Close)
	mux.HandleFunc("DELETE /api/positions/{delegation}/{seq}", h.Positions.DeleteRecord)

	mux.HandleFunc("GET /api/events", h.Events.List)
	mux.HandleFunc("GET /api/archives", h.Events.Archives)
	mux.HandleFunc("GET /api/archives/{name}", h.Events.Archive)

	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var chain http.Handler = mux
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(opts.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Signature(middleware.SignatureConfig{
		MaxSkew: cfg.MaxSkew,
		Nonces:  opts.Nonces,
	}, logger)(chain)
	chain = middleware.Auth(cfg.APIKey)(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
