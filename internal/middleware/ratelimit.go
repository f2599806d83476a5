package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/maglink/internal/ratelimit"
	apperrors "github.com/charlesng35/maglink/pkg/errors"
	"github.com/charlesng35/maglink/pkg/logger"
	"github.com/charlesng35/maglink/pkg/response"
)

// RateLimit bounds requests per (client IP, route) within a fixed window.
// Link issuance is the expensive path: every request sends an email.
func RateLimit(store ratelimit.CounterStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// Fail open: a broken counter must not take sign-in down.
			logger.WithModule("ratelimit").Warn("counter increment failed", zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > int64(maxRequests) {
			c.Abort()
			response.Error(c, apperrors.ErrRateLimit)
			return
		}

		c.Next()
	}
}
