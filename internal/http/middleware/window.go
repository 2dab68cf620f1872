// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts a shared fixed-window limiter (see internal/ratelimit) to
// Gin. It caps calls to the generative model per user across all replicas,
// on top of the process-local token bucket.
package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// WindowLimiter answers whether key still has quota in the current window.
type WindowLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WindowLimit rejects requests over quota with 429. Limiter errors fail
// closed. Idempotent replays are not counted.
func WindowLimit(l WindowLimiter, retryAfterSeconds int, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	retry := strconv.Itoa(max(retryAfterSeconds, 1))

	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		ok, err := l.Allow(c.Request.Context(), keyFn(c))
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("window limiter unavailable; rejecting")
		}
		if ok {
			c.Next()
			return
		}
		abortTooManyRequests(c, limiterWindow, retry, "model quota exceeded")
	}
}
