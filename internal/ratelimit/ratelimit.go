// Package ratelimit implements fixed-window request limits backed by an
// in-process map or a shared Redis instance.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var limitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "govledger_rate_limited_total",
	Help: "Requests rejected by a rate limit.",
}, []string{"limiter"})

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the window resets; zero when allowed.
	RetryAfter int
}

// Store counts hits per key within a window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Limiter applies one limit to keys derived from requests.
type Limiter struct {
	name   string
	store  Store
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewLimiter creates a Limiter allowing limit hits per window for each key.
func NewLimiter(name string, store Store, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{name: name, store: store, limit: limit, window: window, logger: logger}
}

// Allow counts a hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	res, err := l.store.Allow(ctx, l.name+":"+key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		limitedTotal.WithLabelValues(l.name).Inc()
	}
	return res, nil
}

// Check counts a hit for key, writes the rate-limit headers and, when the
// limit is exceeded, aborts with 429. It reports whether the request may
// continue. Store failures are logged and let the request through.
func (l *Limiter) Check(c *gin.Context, key string) bool {
	res, err := l.Allow(c.Request.Context(), key)
	if err != nil {
		l.logger.Error("rate limit check failed", zap.String("limiter", l.name), zap.Error(err))
		return true
	}

	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": res.RetryAfter,
		})
		return false
	}
	return true
}

// Middleware limits requests per client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Check(c, c.ClientIP()) {
			return
		}
		c.Next()
	}
}

func retryAfter(now, reset time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func remaining(limit int, count int64) int {
	r := limit - int(count)
	if r < 0 {
		return 0
	}
	return r
}
