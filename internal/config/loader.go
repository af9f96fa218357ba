package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the built-in defaults, the TOML file at path (skipped when
// path is empty), and AUCTIOND_* environment variable overrides, in that
// order. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTIOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIOND_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "AUCTIOND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "AUCTIOND_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIOND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTIOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTIOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTIOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTIOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIOND_REDIS_TLS_ENABLED")

	// ── Bus ──
	setStr(&cfg.Bus.Mode, "AUCTIOND_BUS_MODE")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "AUCTIOND_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET") // compatibility alias
	setDuration(&cfg.Auth.TokenTTL, "AUCTIOND_AUTH_TOKEN_TTL")

	// ── Bid ──
	setDuration(&cfg.Bid.LockWait, "AUCTIOND_BID_LOCK_WAIT")
	setDuration(&cfg.Bid.PriceTTL, "AUCTIOND_BID_PRICE_TTL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "AUCTIOND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
