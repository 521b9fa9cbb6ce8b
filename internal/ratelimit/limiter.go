// Package ratelimit throttles classification submissions per client.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Bucket defines rate limit parameters.
type Bucket struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// Limiter decides whether one more request identified by key fits in the bucket.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Bucket() Bucket
}

// MemoryLimiter is an in-process sliding-window limiter.
type MemoryLimiter struct {
	bucket Bucket
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryLimiter creates a limiter local to this process.
func NewMemoryLimiter(bucket Bucket) *MemoryLimiter {
	return &MemoryLimiter{bucket: bucket, now: time.Now, hits: make(map[string][]time.Time)}
}

// Bucket returns the limiter's parameters.
func (l *MemoryLimiter) Bucket() Bucket { return l.bucket }

// Allow records a hit for key and reports whether it is within the limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.bucket.MaxRequests <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.bucket.Window)

	times := l.hits[key]
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= l.bucket.MaxRequests {
		l.hits[key] = pruned
		return false, nil
	}
	l.hits[key] = append(pruned, now)
	return true, nil
}

// Prune drops keys with no hits inside the window.
func (l *MemoryLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.bucket.Window)
	for key, times := range l.hits {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// ClientKey derives the limiter key for a request.
func ClientKey(c *gin.Context) string {
	return c.ClientIP()
}

// Check applies the limiter to the request. It returns false when the request is
// over the limit; limiter errors fail open.
func Check(c *gin.Context, l Limiter, logger *zap.Logger) bool {
	bucket := l.Bucket()
	allowed, err := l.Allow(c.Request.Context(), bucket.Name+":"+ClientKey(c))
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing request", zap.String("bucket", bucket.Name), zap.Error(err))
		return true
	}
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(int(bucket.Window.Seconds())))
	}
	return allowed
}

// Middleware rejects requests over the limit with 429 and a JSON body.
func Middleware(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Check(c, l, logger) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "Rate limited",
				"retry_after_seconds": int(l.Bucket().Window.Seconds()),
			})
			return
		}
		c.Next()
	}
}
