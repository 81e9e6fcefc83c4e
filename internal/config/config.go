package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Message store backends selectable with MESSAGE_STORE.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StorePebble   = "pebble"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	PebblePath  string

	// Feed
	MessageStore string        // one of the Store* constants
	MessageTTL   time.Duration // Redis only; zero keeps messages forever
	PageSize     int           // default page for GET /room/{id}

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/pagechat.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		PebblePath:       getEnv("PEBBLE_PATH", "./data/messages"),
		MessageStore:     strings.ToLower(os.Getenv("MESSAGE_STORE")),
		MessageTTL:       getDuration("MESSAGE_TTL", 24*time.Hour),
		PageSize:         getInt("PAGE_SIZE", 50),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if cfg.MessageStore == "" {
		switch {
		case cfg.RedisURL != "":
			cfg.MessageStore = StoreRedis
		case cfg.DatabaseURL != "":
			cfg.MessageStore = StorePostgres
		default:
			cfg.MessageStore = StoreSQLite
		}
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	return cfg
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.MessageStore {
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("MESSAGE_STORE=redis requires REDIS_URL")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("MESSAGE_STORE=postgres requires DATABASE_URL")
		}
	case StoreSQLite, StorePebble, StoreMemory:
	default:
		return fmt.Errorf("unknown MESSAGE_STORE %q", c.MessageStore)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}

	// In production, require database and redis URLs
	if c.Env == "production" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
