package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter is satisfied by *ratelimit.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, time.Duration, error)
}

// RateLimit rejects callers that exhaust their token bucket with 429.
// Redis failures fail open so an outage does not take the API down with it.
func RateLimit(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ok, retry, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limit check failed", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retry_after": secs})
			return
		}
		c.Next()
	}
}
