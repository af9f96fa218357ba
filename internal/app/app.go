// Package app provides the top-level application lifecycle for the auction
// server. It wires together stores, caches, the event bus, and the HTTP +
// WebSocket surface, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rtbsystem/auctiond/internal/auction"
	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/config"
	"github.com/rtbsystem/auctiond/internal/domain"
	"github.com/rtbsystem/auctiond/internal/server"
	"github.com/rtbsystem/auctiond/internal/server/handler"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// shutdown signal.
const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// WebSocket hub and the HTTP server, and blocks until the context is
// cancelled or a component fails. On return the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("bus_mode", a.cfg.Bus.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Auth:     handler.NewAuthHandler(deps.Users, deps.Tokens, a.logger),
		Auctions: handler.NewAuctionHandler(deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Tokens, deps.Hub, deps.RateLimiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// seedUsers are the development accounts created by Seed. All share the
// password "password".
var seedUsers = []struct {
	name  string
	email string
	role  domain.Role
}{
	{name: "Admin", email: "admin@example.com", role: domain.RoleAdmin},
	{name: "Dealer One", email: "dealer@example.com", role: domain.RoleDealer},
	{name: "Dealer Two", email: "dealer2@example.com", role: domain.RoleDealer},
}

// Seed creates development accounts and a couple of sample auctions, then
// returns. Existing accounts are left alone, so Seed is safe to re-run.
func (a *App) Seed(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var admin domain.User
	for _, su := range seedUsers {
		hash, err := auth.HashPassword("password")
		if err != nil {
			return fmt.Errorf("app: seed: %w", err)
		}
		user, err := deps.Users.Create(ctx, domain.User{
			ID:           uuid.New(),
			Name:         su.name,
			Email:        su.email,
			PasswordHash: hash,
			Role:         su.role,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			user, err = deps.Users.GetByEmail(ctx, su.email)
		}
		if err != nil {
			return fmt.Errorf("app: seed user %s: %w", su.email, err)
		}
		if user.Role == domain.RoleAdmin {
			admin = user
		}
		a.logger.InfoContext(ctx, "seeded user",
			slog.String("email", user.Email),
			slog.String("role", string(user.Role)),
		)
	}

	existing, err := deps.Service.ListAuctions(ctx)
	if err != nil {
		return fmt.Errorf("app: seed: %w", err)
	}
	if len(existing) > 0 {
		a.logger.InfoContext(ctx, "auctions already present, skipping sample auctions",
			slog.Int("count", len(existing)),
		)
		return nil
	}

	samples := []struct {
		item  string
		price domain.Cents
	}{
		{item: "2019 Porsche 911 Carrera", price: 85_000_00},
		{item: "1967 Ford Mustang Fastback", price: 42_500_00},
		{item: "Vintage Rolex Submariner", price: 12_000_00},
	}
	for _, s := range samples {
		created, err := deps.Service.CreateAuction(ctx, auction.CreateAuctionParams{
			ItemName:   s.item,
			StartPrice: s.price,
			CreatedBy:  admin.ID,
		})
		if err != nil {
			return fmt.Errorf("app: seed auction %q: %w", s.item, err)
		}
		a.logger.InfoContext(ctx, "seeded auction",
			slog.String("id", created.ID.String()),
			slog.String("item", created.ItemName),
		)
	}

	return nil
}
