// Package server assembles the HTTP + WebSocket API: routing, middleware,
// and graceful lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
	"github.com/rtbsystem/auctiond/internal/server/handler"
	"github.com/rtbsystem/auctiond/internal/server/middleware"
	"github.com/rtbsystem/auctiond/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Auctions *handler.AuctionHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Authentication is
// per-route: health, registration, and login are public; everything else
// requires a valid token, and mutating auction routes additionally require
// the right role. The WebSocket endpoint authenticates its own handshake.
func NewServer(cfg Config, handlers Handlers, tokens *auth.TokenMaker, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	authed := middleware.Auth(tokens)
	adminOnly := func(h http.Handler) http.Handler {
		return authed(middleware.RequireRole(domain.RoleAdmin)(h))
	}
	dealerOnly := func(h http.Handler) http.Handler {
		return authed(middleware.RequireRole(domain.RoleDealer)(h))
	}

	// Public routes.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("POST /api/auth/register", handlers.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)

	// Read routes, any authenticated user.
	mux.Handle("GET /api/auctions", authed(http.HandlerFunc(handlers.Auctions.ListAuctions)))
	mux.Handle("GET /api/auctions/{id}", authed(http.HandlerFunc(handlers.Auctions.GetAuction)))
	mux.Handle("GET /api/auctions/{id}/price", authed(http.HandlerFunc(handlers.Auctions.LatestPrice)))

	// Lifecycle routes, admin only.
	mux.Handle("POST /api/auctions", adminOnly(http.HandlerFunc(handlers.Auctions.CreateAuction)))
	mux.Handle("POST /api/auctions/{id}/start", adminOnly(http.HandlerFunc(handlers.Auctions.StartAuction)))
	mux.Handle("POST /api/auctions/{id}/close", adminOnly(http.HandlerFunc(handlers.Auctions.CloseAuction)))

	// Bidding, dealers only.
	mux.Handle("POST /api/auctions/{id}/bid", dealerOnly(http.HandlerFunc(handlers.Auctions.PlaceBid)))

	// WebSocket endpoint; the hub verifies the handshake token itself.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully assembled handler chain. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
