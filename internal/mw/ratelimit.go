package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ClientRateLimiter hands out one token bucket per client. Buckets of clients
// that stay idle are forgotten.
type ClientRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
	idle     time.Duration
}

// NewClientRateLimiter creates a limiter allowing r requests per second with
// bursts of b.
func NewClientRateLimiter(r rate.Limit, b int) *ClientRateLimiter {
	idle := 10 * time.Minute
	return &ClientRateLimiter{
		limiters: cache.New(idle, idle),
		r:        r,
		b:        b,
		idle:     idle,
	}
}

// GetLimiter returns the bucket for key, creating it on first use.
func (l *ClientRateLimiter) GetLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.limiters.Set(key, lim, l.idle)
		return lim
	}
	lim := rate.NewLimiter(l.r, l.b)
	if err := l.limiters.Add(key, lim, l.idle); err != nil {
		// Lost a race with another request of the same client.
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// RateLimiter limits requests per authenticated user, or per IP address for
// anonymous requests.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewClientRateLimiter(r, b)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, ok := IdentityFrom(c); ok {
			key = "user:" + id.UserID
		}
		if !limiter.GetLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many requests"})
			return
		}
		c.Next()
	}
}
