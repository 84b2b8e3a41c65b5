package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
)

// Handlers groups everything RegisterRoutes mounts.
type Handlers struct {
	Health        *handler.HealthHandler
	Loans         *handler.LoanHandler
	Reservations  *handler.ReservationHandler
	Notifications *handler.NotificationHandler
	Admin         *handler.AdminHandler
}

// Options controls the middleware applied to /v1.
type Options struct {
	AuthEnabled bool
	JWTSecret   string
	RateLimit   config.RateLimitConfig
	Redis       *redis.Client // nil disables rate limiting
}

// RegisterRoutes mounts the health check and the /v1 API. With auth enabled
// every /v1 route needs a bearer token carrying a LIBRARIAN or BORROWER role,
// and /v1/admin is limited to librarians.
func RegisterRoutes(e *echo.Echo, h Handlers, opts Options) {
	e.GET("/healthz", h.Health.Health)

	v1 := e.Group("/v1")
	if opts.AuthEnabled {
		v1.Use(middleware.JWTAuth(opts.JWTSecret))
		v1.Use(middleware.RequireRole(middleware.RoleLibrarian, middleware.RoleBorrower))
	}
	v1.Use(middleware.NewTokenBucket(opts.RateLimit, opts.Redis))

	registerCirculation(v1, h)

	admin := v1.Group("/admin")
	if opts.AuthEnabled {
		admin.Use(middleware.RequireRole(middleware.RoleLibrarian))
	}
	registerAdmin(admin, h.Admin)
}
