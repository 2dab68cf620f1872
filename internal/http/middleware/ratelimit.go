// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token bucket that sits in front of
// every route. Buckets are keyed per authenticated user (falling back to the
// client IP for the public auth routes) and idle buckets are swept
// periodically. Replays detected by IdempotencyValidator are never limited.
//
// The bucket only protects a single process. WindowLimit (window.go) adds a
// quota shared by all replicas on the model routes.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultBucketIdleTTL = 10 * time.Minute
	defaultSweepEvery    = time.Minute
)

// KeyFunc maps a request to the identity its quota is charged to.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the user id set by Authenticate ("user:42") and
// falls back to the client address ("ip:203.0.113.7").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := userIDFromCtx(c); ok {
			return "user:" + strconv.FormatUint(uint64(id), 10)
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a set of token buckets, one per key. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	retry string // Retry-After seconds

	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	sweepEach time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows rps requests per second per key with bursts of up to
// burst (coerced to at least 1). A nil keyFn keys by user or IP.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		keyFn:     keyFn,
		retry:     strconv.Itoa(retryAfterSeconds(rps)),
		buckets:   make(map[string]*bucket),
		idleTTL:   defaultBucketIdleTTL,
		sweepEach: defaultSweepEvery,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// retryAfterSeconds is the whole number of seconds until one token refills.
func retryAfterSeconds(rps float64) int {
	if rps <= 0 {
		return 60
	}
	return max(int(math.Ceil(1/rps)), 1)
}

// limiter returns the bucket for key, creating it on first use. Idle buckets
// are swept first, so a stale bucket is replaced by a full one.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.sweepEach {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// size is the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which no limiter charges.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the buckets. Over-limit requests get 429 with
// Retry-After and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		key := rl.keyFn(c)
		if rl.limiter(key).Allow() {
			c.Next()
			return
		}
		LoggerFrom(c).Debug().Str("limit_key", key).Msg("rate limited")
		abortTooManyRequests(c, limiterBucket, rl.retry, "rate limit exceeded")
	}
}

// abortTooManyRequests answers 429 and counts the rejection under limiter.
func abortTooManyRequests(c *gin.Context, limiter, retryAfter, msg string) {
	httpRejected.WithLabelValues(limiter).Inc()
	c.Header("Retry-After", retryAfter)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "too_many_requests",
		"message":    msg,
	})
}
