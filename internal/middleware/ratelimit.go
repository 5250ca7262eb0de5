package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/aura-stream/backend/pkg/response"
)

// RateLimiter hands out one token bucket per key. Buckets idle for longer than ttl are dropped.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows perMinute requests per key per minute, bursting up to perMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
		if len(rl.limiters)%1024 == 0 {
			rl.sweep(now)
		}
	}
	e.lastAccess = now
	l := e.limiter
	rl.mu.Unlock()
	return l.AllowN(now, 1)
}

// sweep drops idle buckets. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, e := range rl.limiters {
		if now.Sub(e.lastAccess) > rl.ttl {
			delete(rl.limiters, k)
		}
	}
}

// RateLimitUser limits authenticated requests per user. It must run after JWT.
// A nil limiter disables limiting.
func RateLimitUser(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		key := c.ClientIP()
		if id, ok := UserID(c); ok {
			key = id.String()
		}
		if !rl.Allow(key) {
			c.Header("Retry-After", "60")
			response.Fail(c, http.StatusTooManyRequests, "too many requests", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
