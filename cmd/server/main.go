package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/api"
	"github.com/eldtechnologies/pagechat/internal/api/middleware"
	"github.com/eldtechnologies/pagechat/internal/config"
	"github.com/eldtechnologies/pagechat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Run migrations
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")
	}

	// Agents and rooms: PostgreSQL when configured, SQLite otherwise
	var (
		data     store.DataStore
		pgStore  *store.PostgresStore
		sqlStore *store.SQLiteStore
	)
	if cfg.DatabaseURL != "" {
		var err error
		pgStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		data = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		var err error
		sqlStore, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqlStore.Close()
		data = sqlStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL, cfg.MessageTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Message store
	var messages store.MessageStore
	switch cfg.MessageStore {
	case config.StoreRedis:
		messages = redisStore
	case config.StorePostgres:
		messages = pgStore
	case config.StoreSQLite:
		if sqlStore == nil {
			s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
			if err != nil {
				logger.Fatal().Err(err).Msg("sqlite open failed")
			}
			defer s.Close()
			sqlStore = s
		}
		messages = sqlStore
	case config.StorePebble:
		s, err := store.NewPebbleStore(cfg.PebblePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("pebble open failed")
		}
		defer s.Close()
		messages = s
	case config.StoreMemory:
		messages = store.NewMemoryStore()
	}
	logger.Info().Str("store", cfg.MessageStore).Msg("message store ready")

	// Nonces and rate limits are shared through Redis when there is one
	deps := api.Deps{
		Data:     data,
		Messages: messages,
		PageSize: cfg.PageSize,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	}
	if redisStore != nil {
		deps.Nonces = redisStore
		deps.Limits = middleware.NewRedisBackend(redisStore.Client())
	} else {
		deps.Nonces = store.NewMemoryStore()
		deps.Limits = middleware.NewLocalBackend()
		logger.Warn().Msg("no REDIS_URL: nonces and rate limits are kept in process")
	}

	// Create router
	router, h := api.NewRouter(logger, deps)
	if redisStore != nil && cfg.MessageStore != config.StoreRedis {
		h.AddCheck("redis", redisStore)
	}

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Int("page_size", cfg.PageSize).
			Msg("starting pagechat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
