package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTracked bounds the number of clients remembered at once.
const maxTracked = 10000

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen uint64
}

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*trackedLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	max      int
	clock    uint64
}

// NewRateLimiter creates a new rate limiter. A non-positive rps disables
// limiting.
func NewRateLimiter(rps int, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiters: make(map[string]*trackedLimiter),
		rate:     limit,
		burst:    burst,
		max:      maxTracked,
	}
}

// getLimiter returns a rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.clock++
	if tracked, exists := rl.limiters[key]; exists {
		tracked.lastSeen = rl.clock
		return tracked.limiter
	}

	if len(rl.limiters) >= rl.max {
		rl.evict()
	}
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = &trackedLimiter{limiter: limiter, lastSeen: rl.clock}

	return limiter
}

// evict drops every client whose bucket has refilled, since a new limiter
// is identical to it. When all buckets are in use the least recently seen
// client goes. Must be called with mu held.
func (rl *RateLimiter) evict() {
	var (
		oldestKey string
		oldest    uint64
	)
	for key, tracked := range rl.limiters {
		if tracked.limiter.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, key)
			continue
		}
		if oldestKey == "" || tracked.lastSeen < oldest {
			oldestKey, oldest = key, tracked.lastSeen
		}
	}
	if len(rl.limiters) >= rl.max && oldestKey != "" {
		delete(rl.limiters, oldestKey)
	}
}

// RateLimit middleware limits requests per access key or IP
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Authenticated clients are limited per key
		keyID, exists := GetKeyID(c)
		var key string

		if exists {
			key = fmt.Sprintf("key:%s", keyID)
		} else {
			// Fall back to IP address
			key = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		limiter := rl.getLimiter(key)
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
