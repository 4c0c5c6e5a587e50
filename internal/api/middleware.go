package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"lexchat/internal/auth"
)

// requestLogger logs each request once it completes and feeds the HTTP metrics.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		h.metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"elapsed_ms", elapsed.Milliseconds(),
		}
		if userID, ok := auth.UserIDFromContext(c); ok {
			attrs = append(attrs, "user_id", userID)
		}
		if status >= 500 {
			h.logger.Warn("request", attrs...)
			return
		}
		h.logger.Debug("request", attrs...)
	}
}

const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter holds one token bucket per user. Buckets idle for longer than
// limiterIdleTTL are dropped on the next sweep.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newUserLimiter(limit rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		limit:     limit,
		burst:     burst,
		entries:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

func (l *userLimiter) Allow(userID string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.entries[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
