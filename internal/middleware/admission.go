package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nathanyu/subscriber-transfer/internal/resolver"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

// Admission rejects requests from untrusted addresses before any
// business logic runs. Trust is a pure function of the configured
// prefixes, so the decision is reproducible.
func Admission(res *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.ClientIP()
		if !res.IsTrusted(addr) {
			telemetry.AdmissionRejectedTotal.WithLabelValues("untrusted").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "address not trusted",
			})
			return
		}
		c.Next()
	}
}

// RateLimit applies a per-address token bucket. Limiters are created
// lazily per client address.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	limiterFor := func(addr string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[addr]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[addr] = l
		}
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			telemetry.AdmissionRejectedTotal.WithLabelValues("rate_limited").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
