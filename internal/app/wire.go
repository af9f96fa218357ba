package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rtbsystem/auctiond/internal/auction"
	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/bus/local"
	"github.com/rtbsystem/auctiond/internal/cache/redis"
	"github.com/rtbsystem/auctiond/internal/config"
	"github.com/rtbsystem/auctiond/internal/domain"
	"github.com/rtbsystem/auctiond/internal/server/ws"
	"github.com/rtbsystem/auctiond/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Users    domain.UserStore
	Ledger   domain.Ledger

	// Event fabric and caches
	Bus         domain.EventBus
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter

	// Services
	Tokens  *auth.TokenMaker
	Service *auction.Service
	Hub     *ws.Hub
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Auctions = postgres.NewAuctionStore(pool)
	deps.Bids = postgres.NewBidStore(pool)
	deps.Users = postgres.NewUserStore(pool)
	deps.Ledger = postgres.NewLedger(pool, cfg.Bid.LockWait.Duration)

	// --- Redis + event bus ---
	// The redis bus shares events across server instances; the local bus is
	// in-process only. Redis also backs the price cache and rate limiter, so
	// it is connected whenever any of those is wanted.
	busMode := strings.ToLower(cfg.Bus.Mode)
	needsRedis := busMode == "redis" || cfg.Server.RateLimit > 0
	if needsRedis {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Bid.PriceTTL.Duration)
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
		if busMode == "redis" {
			deps.Bus = redis.NewEventBus(redisClient)
		}
	}
	if deps.Bus == nil {
		deps.Bus = local.NewBus()
	}

	// --- Auth ---
	tokens, err := auth.NewTokenMaker(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: token maker: %w", err)
	}
	deps.Tokens = tokens

	// --- Auction service + WebSocket hub ---
	deps.Service = auction.NewService(auction.Config{
		Auctions: deps.Auctions,
		Bids:     deps.Bids,
		Users:    deps.Users,
		Ledger:   deps.Ledger,
		Bus:      deps.Bus,
		Prices:   deps.PriceCache,
		Logger:   logger,
		LockWait: cfg.Bid.LockWait.Duration,
	})
	deps.Hub = ws.NewHub(deps.Bus, tokens, logger)

	return deps, cleanup, nil
}
