package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle client keeps its bucket.
const limiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit enforces a per-client token bucket. Authenticated requests are
// keyed by identity so one user cannot starve others behind a shared proxy;
// anonymous requests fall back to the client IP.
func RateLimit(perMinute, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
		swept   = time.Now()
	)

	perSecond := rate.Limit(float64(perMinute) / 60.0)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if user := c.GetString(UserKey); user != "" {
			key = "user:" + user
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(swept) > limiterTTL {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > limiterTTL {
					delete(clients, k)
				}
			}
			swept = now
		}
		cl, ok := clients[key]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(perSecond, burst)}
			clients[key] = cl
		}
		cl.lastSeen = now
		mu.Unlock()

		if !cl.limiter.Allow() {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
