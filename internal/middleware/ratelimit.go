package middleware

import (
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/papertrade-sim/internal/ratelimit"
	"github.com/papertrade-sim/pkg/response"
)

// RateLimitMiddleware applies a sliding-window limit per authenticated user,
// falling back to the client IP for unauthenticated routes. Limiter errors
// fail open so a Redis outage never blocks legitimate traffic.
func RateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			LogError("rate limiter unavailable for %s: %v", key, err)
			c.Next()
			return
		}

		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			response.TooManyRequests(c, seconds, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// clientKey identifies the caller: user ID when authenticated, IP otherwise.
func clientKey(c *gin.Context) string {
	if userID := GetUserID(c); userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	return "ip:" + c.ClientIP()
}
