package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/handler"
	"github.com/noah-isme/secure-login-api/internal/middleware"
	"github.com/noah-isme/secure-login-api/internal/repository"
	"github.com/noah-isme/secure-login-api/internal/service"
	"github.com/noah-isme/secure-login-api/pkg/cache"
	"github.com/noah-isme/secure-login-api/pkg/config"
	"github.com/noah-isme/secure-login-api/pkg/database"
	"github.com/noah-isme/secure-login-api/pkg/jobs"
	"github.com/noah-isme/secure-login-api/pkg/password"
	"github.com/noah-isme/secure-login-api/pkg/ratelimit"
)

type storage struct {
	accounts service.AccountStore
	tokens   service.RefreshTokenStore
	audits   service.AuditStore
	ping     handler.ReadinessCheck
	close    func() error
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logr *zap.Logger) (*storage, error) {
	if cfg.Driver == config.DriverMemory {
		logr.Warn("using in-memory storage, data is lost on restart")
		store := repository.NewMemoryStore()
		return &storage{
			accounts: store,
			tokens:   store,
			audits:   store,
			ping:     func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &storage{
		accounts: repository.NewAccountRepository(db),
		tokens:   repository.NewRefreshTokenRepository(db),
		audits:   repository.NewAuditRepository(db),
		ping:     db.PingContext,
		close:    db.Close,
	}, nil
}

type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *storage
	redis   *redis.Client
	limiter middleware.Limiter
	global  middleware.Limiter

	tokens  *service.TokenService
	chains  *service.RefreshChainService
	audit   *service.AuditService
	metrics *service.MetricsService
	auth    *service.AuthService
}

func newApplication(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*application, error) {
	hasher, err := password.NewHasher(password.Config{
		Time:       cfg.Password.Time,
		MemoryKB:   cfg.Password.MemoryKB,
		Threads:    cfg.Password.Threads,
		KeyLength:  cfg.Password.KeyLength,
		SaltLength: cfg.Password.SaltBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	store, err := openStorage(ctx, cfg.Database, logr)
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg, logger: logr, store: store}
	app.metrics = service.NewMetricsService()
	app.tokens = service.NewTokenService(service.TokenConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.Refresh.Expiration,
		RefreshSecretBytes: cfg.Refresh.SecretBytes,
		Issuer:             cfg.JWT.Issuer,
		Audience:           cfg.JWT.Audience,
	})
	app.audit = service.NewAuditService(store.audits, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: 2,
		Logger:     logr,
	}, logr, app.metrics)

	authenticator := service.NewAuthenticator(store.accounts, hasher, logr, app.metrics, service.AuthenticatorConfig{
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  cfg.Lockout.Duration,
	})
	app.chains = service.NewRefreshChainService(store.tokens, app.tokens, app.audit, app.metrics, logr, service.RefreshChainConfig{
		ReuseDetection: cfg.Refresh.ReuseDetection,
		ReuseGrace:     cfg.Refresh.ReuseGrace,
	})
	app.auth = service.NewAuthService(authenticator, app.chains, app.tokens, store.accounts, validator.New(), app.audit, app.metrics, logr)

	if cfg.RateLimit.Enabled {
		app.connectRateLimiter(ctx)
	}

	return app, nil
}

// connectRateLimiter degrades to unthrottled endpoints when Redis is down at
// boot. Failures after boot are handled per request by the middleware.
func (a *application) connectRateLimiter(ctx context.Context) {
	client, err := cache.NewRedis(ctx, a.cfg.Redis)
	if err != nil {
		a.logger.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		return
	}
	a.redis = client
	a.limiter = ratelimit.New(client, ratelimit.Config{
		Prefix: "auth:ratelimit",
		Max:    a.cfg.RateLimit.Max,
		Window: a.cfg.RateLimit.Window,
	})
	a.global = ratelimit.New(client, ratelimit.Config{
		Prefix: "auth:ratelimit",
		Max:    a.cfg.RateLimit.GlobalMax,
		Window: a.cfg.RateLimit.GlobalWindow,
	})
}

func (a *application) readinessChecks() map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{"database": a.store.ping}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
	}
	return checks
}

func (a *application) routerConfig() handler.RouterConfig {
	return handler.RouterConfig{
		APIPrefix:      a.cfg.APIPrefix,
		AllowedOrigins: a.cfg.CORS.AllowedOrigins,
		EnableDocs:      a.cfg.Env != config.EnvProduction,
		StrictTransport: a.cfg.Cookie.Secure,
		Auth: handler.NewAuthHandler(a.auth, handler.CookieSettings{
			Secure:     a.cfg.Cookie.Secure,
			Domain:     a.cfg.Cookie.Domain,
			AccessTTL:  a.tokens.AccessTokenExpiry(),
			RefreshTTL: a.tokens.RefreshTokenExpiry(),
		}),
		Metrics:   handler.NewMetricsHandler(a.metrics, a.readinessChecks()),
		Validator: a.auth,
		Telemetry: a.metrics,
		Limiter:   a.limiter,
		Logger:    a.logger,

		GlobalLimiter: a.global,
	}
}

// Close drains the audit queue before releasing connections.
func (a *application) Close() error {
	a.audit.Stop()

	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.close())
	return errors.Join(errs...)
}
