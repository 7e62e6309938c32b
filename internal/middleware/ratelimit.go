package middleware

import (
	"context"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/service"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
	"github.com/noah-isme/secure-login-api/pkg/ratelimit"
	"github.com/noah-isme/secure-login-api/pkg/response"
)

// Limiter is the subset of ratelimit.Limiter used by RateLimit.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// RateLimit throttles requests per client IP within scope. When the
// limiter backend fails the request is let through and the failure logged.
func RateLimit(limiter Limiter, scope string, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		if !decision.Allowed {
			metrics.RecordRateLimited()
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds > 0 {
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, ""))
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}
