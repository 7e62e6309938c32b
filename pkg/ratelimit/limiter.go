package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures so callers can decide to fail open.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Config sets the fixed-window budget.
type Config struct {
	Prefix string
	Max    int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows stored in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Limiter{redis: client, config: cfg}
}

// Allow records one hit for key and reports whether it fits the budget.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.config.Prefix + ":" + key

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.config.Window).Err(); err != nil {
			return Decision{Allowed: true}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	decision := Decision{Count: count, Allowed: count <= int64(l.config.Max)}
	if decision.Allowed {
		decision.Remaining = l.config.Max - int(count)
		return decision, nil
	}

	ttl, err := l.redis.TTL(ctx, redisKey).Result()
	if err != nil {
		return decision, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// counter lost its expiry; restart the window
		if err := l.redis.Expire(ctx, redisKey, l.config.Window).Err(); err != nil {
			return decision, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ttl = l.config.Window
	}
	decision.RetryAfter = ttl
	return decision, nil
}
