package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/middleware"
	"github.com/noah-isme/secure-login-api/internal/service"
	"github.com/noah-isme/secure-login-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/secure-login-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/secure-login-api/pkg/middleware/requestid"
	"github.com/noah-isme/secure-login-api/pkg/middleware/secureheaders"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	// StrictTransport sends HSTS; only enable behind TLS.
	StrictTransport bool

	Auth      *AuthHandler
	Metrics   *MetricsHandler
	Validator middleware.TokenValidator
	Telemetry *service.MetricsService
	Limiter   middleware.Limiter
	// GlobalLimiter applies one budget per client IP across every route.
	GlobalLimiter middleware.Limiter
	Logger        *zap.Logger
}

// NewRouter builds the gin engine with the auth routes and operational
// endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(secureheaders.New(secureheaders.Config{
		ConnectSources: cfg.AllowedOrigins,
		SkipPrefixes:   []string{"/docs/"},
		HSTS:           cfg.StrictTransport,
	}))
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Telemetry))
	r.Use(middleware.RateLimit(cfg.GlobalLimiter, "global", cfg.Telemetry, cfg.Logger))

	r.GET("/health", cfg.Metrics.Health)
	r.GET("/ready", cfg.Metrics.Ready)
	r.GET("/metrics", cfg.Metrics.Prometheus)

	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limit := func(scope string) gin.HandlerFunc {
		return middleware.RateLimit(cfg.Limiter, scope, cfg.Telemetry, cfg.Logger)
	}

	auth := r.Group(cfg.APIPrefix + "/auth")
	auth.POST("/register", limit("register"), cfg.Auth.Register)
	auth.POST("/login", limit("login"), cfg.Auth.Login)
	auth.POST("/refresh", limit("refresh"), cfg.Auth.Refresh)
	auth.POST("/logout", limit("logout"), cfg.Auth.Logout)
	auth.GET("/me", middleware.JWT(cfg.Validator), cfg.Auth.Me)

	return r
}
