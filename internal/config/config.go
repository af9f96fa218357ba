// Package config defines the top-level configuration for the auction server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AUCTIOND_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Bus      BusConfig      `toml:"bus"`
	Auth     AuthConfig     `toml:"auth"`
	Bid      BidConfig      `toml:"bid"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. When DSN is set it
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// BusConfig selects the event bus implementation. "redis" shares events
// across server instances; "local" is in-process only and suits
// single-instance deployments without Redis.
type BusConfig struct {
	Mode string `toml:"mode"`
}

// AuthConfig holds token issuance parameters.
type AuthConfig struct {
	// JWTSecret signs access tokens; it must be at least 32 bytes.
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  duration `toml:"token_ttl"`
}

// BidConfig holds bid-serialization parameters.
type BidConfig struct {
	// LockWait bounds how long a bid may wait for an auction's row lock
	// before failing with a retryable error.
	LockWait duration `toml:"lock_wait"`
	// PriceTTL is how long cached latest-price entries live in Redis.
	PriceTTL duration `toml:"price_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "24h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "24h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctiond",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Bus: BusConfig{
			Mode: "redis",
		},
		Auth: AuthConfig{
			TokenTTL: duration{24 * time.Hour},
		},
		Bid: BidConfig{
			LockWait: duration{5 * time.Second},
			PriceTTL: duration{time.Hour},
		},
		LogLevel: "info",
	}
}

// validBusModes enumerates the accepted values for Bus.Mode.
var validBusModes = map[string]bool{
	"redis": true,
	"local": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Bus
	if !validBusModes[strings.ToLower(c.Bus.Mode)] {
		errs = append(errs, fmt.Sprintf("bus: unknown mode %q (valid: redis, local)", c.Bus.Mode))
	}

	// Redis is required unless the bus is local; the price cache and rate
	// limiter also need it.
	needsRedis := strings.ToLower(c.Bus.Mode) == "redis" || c.Server.RateLimit > 0
	if needsRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Auth
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth: jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be positive")
	}

	// Bid
	if c.Bid.LockWait.Duration <= 0 {
		errs = append(errs, "bid: lock_wait must be positive")
	}
	if c.Bid.PriceTTL.Duration < 0 {
		errs = append(errs, "bid: price_ttl must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
