package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter implements per-IP rate limiting for the public tracking surface
type RateLimiter struct {
	ipLimiters    map[string]*rate.Limiter
	ipMutex       sync.RWMutex
	ipLimiterRate rate.Limit
	ipBurst       int
	cleanupTicker *time.Ticker
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(ipRequestsPerSecond float64, ipBurst int) *RateLimiter {
	limiter := &RateLimiter{
		ipLimiters:    make(map[string]*rate.Limiter),
		ipLimiterRate: rate.Limit(ipRequestsPerSecond),
		ipBurst:       ipBurst,
		cleanupTicker: time.NewTicker(5 * time.Minute),
	}

	go limiter.cleanup()

	return limiter
}

// cleanup periodically removes old limiters to prevent memory leaks
func (rl *RateLimiter) cleanup() {
	for range rl.cleanupTicker.C {
		rl.ipMutex.Lock()
		rl.ipLimiters = make(map[string]*rate.Limiter)
		rl.ipMutex.Unlock()
	}
}

// Stop stops the rate limiter cleanup
func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
}

// getIPLimiter returns the rate limiter for an IP
func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.ipMutex.RLock()
	limiter, exists := rl.ipLimiters[ip]
	rl.ipMutex.RUnlock()

	if !exists {
		rl.ipMutex.Lock()
		limiter = rate.NewLimiter(rl.ipLimiterRate, rl.ipBurst)
		rl.ipLimiters[ip] = limiter
		rl.ipMutex.Unlock()
	}

	return limiter
}

// IPRateLimiterMiddleware limits requests based on IP address
func (rl *RateLimiter) IPRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := rl.getIPLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
