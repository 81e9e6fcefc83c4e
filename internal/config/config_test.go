package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "PEBBLE_PATH",
		"MESSAGE_STORE", "MESSAGE_TTL", "PAGE_SIZE", "RATE_LIMIT_WHITELIST", "AUTO_BLOCK_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, StoreSQLite, cfg.MessageStore)
	assert.Equal(t, 24*time.Hour, cfg.MessageTTL)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Empty(t, cfg.RateLimitWhitelist)
}

func TestLoadPicksRedisWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MESSAGE_TTL", "1h")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 127.0.0.1 ,")

	cfg := Load()
	assert.Equal(t, StoreRedis, cfg.MessageStore)
	assert.Equal(t, time.Hour, cfg.MessageTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"pebble ok", Config{MessageStore: StorePebble, PageSize: 20}, ""},
		{"redis without url", Config{MessageStore: StoreRedis, PageSize: 20}, "REDIS_URL"},
		{"postgres without url", Config{MessageStore: StorePostgres, PageSize: 20}, "DATABASE_URL"},
		{"unknown store", Config{MessageStore: "mongo", PageSize: 20}, "unknown MESSAGE_STORE"},
		{"bad page size", Config{MessageStore: StoreMemory}, "PAGE_SIZE"},
		{"production needs redis", Config{MessageStore: StoreMemory, PageSize: 20, Env: "production", DatabaseURL: "postgres://x"}, "REDIS_URL"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
