package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doutor-motors/expert-chat/internal/middleware"
	"github.com/doutor-motors/expert-chat/internal/service"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

// RouterConfig holds what the gateway router needs.
type RouterConfig struct {
	Sessions          *service.SessionService
	Health            *HealthHandler
	Logger            *logger.Logger
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
}

// NewRouter builds the gateway HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Logger)

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins...))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Post("/clear", sessionHandler.Clear)
				r.Put("/codes", sessionHandler.SelectCodes)
				r.Post("/load", sessionHandler.Load)
				r.Post("/turns", streamHandler.Turn)
			})
		})
	})

	return r
}
