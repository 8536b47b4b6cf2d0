package sessions

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// sendLimiter hands out one token bucket per tab for generation requests.
type sendLimiter struct {
	limit rate.Limit
	burst int

	mu   sync.Mutex
	tabs map[string]*rate.Limiter
}

func newSendLimiter(perMinute, burst int) *sendLimiter {
	if burst < 1 {
		burst = 1
	}
	return &sendLimiter{
		limit: rate.Limit(perMinute) / 60.0,
		burst: burst,
		tabs:  make(map[string]*rate.Limiter),
	}
}

func (l *sendLimiter) allow(tabID string) bool {
	l.mu.Lock()
	lim, ok := l.tabs[tabID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.tabs[tabID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *sendLimiter) forget(tabID string) {
	l.mu.Lock()
	delete(l.tabs, tabID)
	l.mu.Unlock()
}

// limitSends rejects generation requests beyond the tab's rate with 429.
func (s *Server) limitSends() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.allow(c.Param("tabID")) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many generation requests for this tab"})
			return
		}
		c.Next()
	}
}
