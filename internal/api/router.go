package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/app"
	"github.com/lumenclass/inviteledger/internal/handlers"
	"github.com/lumenclass/inviteledger/internal/middleware"
	"github.com/lumenclass/inviteledger/internal/services"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Credits       *services.CreditService
	Rewards       *services.RewardService
	Notifications *services.NotificationService
	Events        *services.EventProcessor
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, svcs Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.Credits == nil || svcs.Rewards == nil || svcs.Notifications == nil || svcs.Events == nil {
		return nil, fmt.Errorf("all domain services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Limit, cfg.Server.RateLimit.Window))
	}

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	// Prometheus metrics (public)
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	apiGroup := r.Group("/api")
	requireAdmin := middleware.AdminAuth(cfg.Auth.JWT.Secret)

	if err := registerEventRoutes(apiGroup, svcs.Events, requireAdmin); err != nil {
		return nil, err
	}
	if err := registerCreditRoutes(apiGroup, svcs.Credits, requireAdmin); err != nil {
		return nil, err
	}
	if err := registerRewardRoutes(apiGroup, svcs.Rewards, requireAdmin); err != nil {
		return nil, err
	}
	if err := registerNotificationRoutes(apiGroup, svcs.Notifications); err != nil {
		return nil, err
	}
	if err := registerContactRoutes(apiGroup, db, requireAdmin); err != nil {
		return nil, err
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
