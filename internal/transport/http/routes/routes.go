package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/infra/config"
	"github.com/arklim/dispense-auth/internal/transport/http/handlers"
	"github.com/arklim/dispense-auth/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Auth        handlers.AuthService
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Auth == nil {
		return r
	}

	api := r.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(deps.Auth)
		authHandler.RegisterRoutes(api.Group("/auth"), rateLimitMiddlewares(deps, "authenticate",
			deps.Config.RateLimit.AuthenticateMaxAttempts, deps.Config.RateLimit.AccountAuthenticateMaxAttempts)...)

		passwordHandler := handlers.NewPasswordHandler(deps.Auth)
		passwordHandler.RegisterRoutes(api.Group("/password"), rateLimitMiddlewares(deps, "password_change",
			deps.Config.RateLimit.ChangeMaxAttempts, deps.Config.RateLimit.AccountChangeMaxAttempts)...)

		accountsGroup := api.Group("/accounts")
		accountsGroup.Use(middleware.RequireAdminToken(deps.Config.App.AdminTokens))
		handlers.NewAccountHandler(deps.Auth).RegisterRoutes(accountsGroup)
	}

	return r
}

// rateLimitMiddlewares limits an endpoint per client IP and per account named in the body.
// A non-positive limit disables that rule.
func rateLimitMiddlewares(deps Dependencies, name string, ipLimit, accountLimit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || (ipLimit <= 0 && accountLimit <= 0) {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(
		middleware.RateLimitRule{
			Name:       name + "_ip",
			Scope:      middleware.ScopeClientIP,
			Limit:      ipLimit,
			Window:     window,
			Identifier: middleware.ClientIPIdentifier(),
		},
		middleware.RateLimitRule{
			Name:       name + "_account",
			Scope:      middleware.ScopeAccount,
			Limit:      accountLimit,
			Window:     window,
			Identifier: middleware.AccountIdentifier(),
		},
	)}
}
