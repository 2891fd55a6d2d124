package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roadside/internal/service"
	"roadside/internal/throttle"
)

const (
	requestsPerWindow = 200
	requestWindow     = time.Minute
)

// RateLimit limits requests per client IP with a bucket that refills
// requestsPerWindow tokens every requestWindow.
func RateLimit() gin.HandlerFunc {
	return RateLimitWith(throttle.NewKeyed(rate.Every(requestWindow/requestsPerWindow), requestsPerWindow, 2*requestWindow))
}

// RateLimitWith limits requests per client IP using limiter.
func RateLimitWith(limiter throttle.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			zap.L().Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.FullPath()))
			abort(c, http.StatusTooManyRequests, service.ErrRateLimited)
			return
		}
		c.Next()
	}
}
