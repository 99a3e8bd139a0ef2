// Package config loads service configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// Persistence
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// Auth
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUsername string
	AdminPassword string
	CookieSecure  bool

	// Market data
	MarketDataURL     string
	MarketDataAPIKey  string
	MarketDataRPS     int
	PriceSyncInterval time.Duration

	// Valuation and ingestion
	LookupConcurrency int
	MaxPosition       decimal.Decimal
}

// Load reads a .env file when present, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Existing environment variables win over the file.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/custody.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    getDuration("CACHE_TTL", 30*time.Second),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenTTL:      getDuration("TOKEN_TTL", 24*time.Hour),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		CookieSecure:  getBool("COOKIE_SECURE", false),

		MarketDataURL:     os.Getenv("MARKETDATA_URL"),
		MarketDataAPIKey:  os.Getenv("MARKETDATA_API_KEY"),
		MarketDataRPS:     getInt("MARKETDATA_RPS", 5),
		PriceSyncInterval: getDuration("PRICE_SYNC_INTERVAL", 5*time.Minute),

		LookupConcurrency: getInt("PNL_LOOKUP_CONCURRENCY", 8),
		MaxPosition:       getDecimal("MAX_POSITION", decimal.Zero),
	}

	// DATABASE_URL alone selects Postgres, as before SQLite was the default.
	defaultDriver := DriverSQLite
	if cfg.DatabaseURL != "" {
		defaultDriver = DriverPostgres
	}
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", defaultDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for settings the service cannot start without.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in env, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in env, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in env, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return dur
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	dec, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal in env, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return dec
}
