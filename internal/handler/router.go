package handler

import (
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Service BookingService
	Auth    *Authenticator
	// DB backs the readiness probe.
	DB Pinger
	// Redis enables the Idempotency-Key middleware on write routes when set.
	Redis          RedisClient
	IdempotencyTTL time.Duration
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Log     *zap.Logger
}

// NewRouter builds the chi router for the booking API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := NewBookingHandler(cfg.Service)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log

	// Health
	r.Get("/health", HealthCheck)
	if cfg.DB != nil {
		r.Get("/ready", ReadinessCheck(cfg.DB))
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// Writes replay their stored response when retried with the same key.
	idempotent := func(next http.Handler) http.Handler { return next }
	if cfg.Redis != nil {
		idempotent = Idempotency(IdempotencyConfig{
			Redis: cfg.Redis,
			TTL:   cfg.IdempotencyTTL,
			Log:   log,
		})
	}

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/events/{id}/inventory", h.EventInventory)
		r.Get("/bookings/{id}", h.GetBooking)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleAttendee))

			r.With(idempotent).Post("/bookings", h.CreateBooking)
			r.With(idempotent).Put("/bookings/{id}/cancel", h.CancelBooking)
			r.Get("/users/me/bookings", h.ListMyBookings)
		})
	})

	return r
}
