package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/api/middleware"
	"github.com/eldtechnologies/pagechat/internal/handlers"
	"github.com/eldtechnologies/pagechat/internal/store"
)

// Deps are the stores and settings the router wires into handlers.
type Deps struct {
	Data     store.DataStore
	Messages store.MessageStore
	Nonces   store.NonceStore
	Limits   middleware.LimitBackend
	PageSize int

	RateLimit middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router. It returns the handler
// too so the caller can register extra health checks.
func NewRouter(logger zerolog.Logger, deps Deps) (*chi.Mux, *handlers.Handler) {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(deps.Limits, logger, deps.RateLimit)
	r.Use(limiter.Middleware)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderAgent, middleware.HeaderNonce, middleware.HeaderTimestamp, middleware.HeaderSignature,
			handlers.RoomKeyHeader,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Data, deps.Messages, logger, deps.PageSize)
	auth := middleware.NewAuthMiddleware(deps.Data, deps.Nonces)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api", h.Root)

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)
	r.Get("/who/{id}", h.Who)
	r.Get("/channels", h.ListChannels)
	r.Get("/room/{id}", h.GetRoomMessages) // Public rooms open, private rooms need key header
	r.Get("/room/{id}/watch", h.WatchRoom)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/room", h.CreateRoom)
		r.Post("/room/{id}", h.PostMessage)
	})

	return r, h
}
