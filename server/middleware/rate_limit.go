package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/models"
)

// RateLimiter applies a per-client token bucket keyed by client IP. Buckets
// refill continuously at rps tokens per second up to burst.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     int
	burst   int
	logger  *zap.Logger
	sweeper *time.Ticker
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

func NewRateLimiter(rps, burst int, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		logger:  logger,
		sweeper: time.NewTicker(5 * time.Minute),
	}
	go rl.sweep()
	return rl
}

// Limit is the gin middleware entry point.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !rl.allow(clientIP) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.APIResponse{
				Error: &models.APIError{
					Code:    "rate_limited",
					Message: "too many requests",
				},
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[clientIP]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastSeen: time.Now()}
		rl.buckets[clientIP] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastSeen).Seconds() * float64(rl.rps)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle for more than ten minutes so the map does not
// grow with every client ever seen.
func (rl *RateLimiter) sweep() {
	for range rl.sweeper.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			b.mu.Lock()
			stale := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if stale {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// ActiveClients reports how many buckets are live, for diagnostics.
func (rl *RateLimiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) Shutdown() {
	rl.sweeper.Stop()
}
