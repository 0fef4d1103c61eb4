package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	clientLimiterTTL     = 10 * time.Minute
	clientLimiterCleanup = 5 * time.Minute
)

// clientEntry pairs a token-bucket limiter with the last-seen timestamp for eviction.
type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds a token-bucket limiter per client key with TTL eviction
// so a high cardinality of clients cannot grow memory without bound.
type clientLimiter struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	r       rate.Limit
	b       int
}

func newClientLimiter(r rate.Limit, b int) *clientLimiter {
	cl := &clientLimiter{
		entries: make(map[string]*clientEntry),
		r:       r,
		b:       b,
	}
	go cl.cleanupLoop()
	return cl
}

func (l *clientLimiter) cleanupLoop() {
	ticker := time.NewTicker(clientLimiterCleanup)
	defer ticker.Stop()
	for range ticker.C {
		l.evict(time.Now())
	}
}

func (l *clientLimiter) evict(now time.Time) {
	cutoff := now.Add(-clientLimiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

func (l *clientLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &clientEntry{lim: rate.NewLimiter(l.r, l.b)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// clientKey prefers the authenticated user so callers behind one NAT do not
// share a bucket.
func clientKey(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok && id.UserID != "" {
		return "uid:" + id.UserID
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a middleware that limits requests per client.
// rps = requests per second, burst = burst capacity. rps <= 0 disables it.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	if rps <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limiter := newClientLimiter(rate.Limit(rps), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.get(clientKey(c), time.Now()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
