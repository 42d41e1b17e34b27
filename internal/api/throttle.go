package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "compras-aggregator/internal/common/errors"
)

// clientLimiters keeps one token bucket per client key and forgets idle ones.
type clientLimiters struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &clientLimiters{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	c.cleanup(now)
	lim := rate.NewLimiter(c.rps, c.burst)
	c.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// cleanup drops idle entries; called with mu held when a new key arrives.
func (c *clientLimiters) cleanup(now time.Time) {
	cutoff := now.Add(-c.idleTTL)
	for k, e := range c.entries {
		if e.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// throttle rejects clients that exceed their request budget with 429.
// A non-positive rps disables throttling.
func throttle(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newClientLimiters(rps, burst)
	return func(c *gin.Context) {
		lim := limiters.get(c.ClientIP())
		if lim.Allow() {
			c.Next()
			return
		}
		retry := int(math.Ceil(1 / rps))
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(&apperrors.StandardError{
			Code:      apperrors.ErrCodeRateLimited,
			Message:   "Too many requests",
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}))
	}
}
