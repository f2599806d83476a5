package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/maglink/internal/app"
	iauth "github.com/charlesng35/maglink/internal/auth"
	"github.com/charlesng35/maglink/internal/handlers"
	"github.com/charlesng35/maglink/internal/middleware"
	"github.com/charlesng35/maglink/internal/ratelimit"
	"github.com/charlesng35/maglink/internal/services"
)

// Services bundles the collaborators the router hands to its handlers.
type Services struct {
	MagicLinks  *services.MagicLinkService
	Users       *services.UserService
	Audit       *services.AuditService
	JWT         *iauth.JWTService
	RateLimiter ratelimit.CounterStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, svc Services, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if cfg.RateLimit.Enabled && svc.RateLimiter == nil {
		return nil, fmt.Errorf("rate limiting enabled but no counter store provided")
	}

	authHandler, err := handlers.NewAuthHandler(svc.MagicLinks, svc.Users, svc.Audit, svc.JWT)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	auth := r.Group("/api/auth")
	if cfg.RateLimit.Enabled {
		auth.Use(middleware.RateLimit(svc.RateLimiter, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window))
	}
	{
		auth.POST("/magic-link", authHandler.RequestLink)
		auth.GET("/redeem", authHandler.Redeem)
		// The audit log carries addresses and client IPs; a session token
		// obtained through a redeemed link is required to read it.
		auth.GET("/events", middleware.Auth(svc.JWT), authHandler.ListEvents)
	}

	return r, nil
}
