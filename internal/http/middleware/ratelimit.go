// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-client token-bucket limiter that guards the job
// API and the public object routes. The webhook is never behind it: the
// platform retries rejected deliveries, so throttling would only multiply
// traffic. Buckets are process-local and idle ones are swept periodically.
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
	bucketIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
	maxRetryAfter = 60 * time.Second
)

// keyFunc maps a request to the identity its bucket is keyed by.
type keyFunc func(*gin.Context) string

// KeyByIP buckets callers by client IP ("ip:203.0.113.7").
func KeyByIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every key its own token bucket. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second per key with the given
// burst; a burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		keyFn:     keyFn,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiterFor returns key's limiter, creating it on first use. Buckets idle for
// bucketIdleTTL are dropped at most once per sweepInterval, before the lookup,
// so a stale bucket for key starts over full.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= sweepInterval {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketIdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Handler rejects requests over the key's budget with 429 and a Retry-After
// telling the caller when its next token is due (whole seconds, 1 to 60).
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		now := rl.now()
		res := rl.limiterFor(key).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.Cancel()

		wait := retryAfterSeconds(delay)
		LoggerFrom(c).Debug().Str("key", key).Int("retry_after_s", wait).Msg("rate limited")
		c.Header("Retry-After", strconv.Itoa(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfterSeconds rounds d up to whole seconds within [1, maxRetryAfter].
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return int(math.Ceil(d.Seconds()))
}
