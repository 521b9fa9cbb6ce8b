package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counter increments a windowed counter and returns its new value.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR and a TTL set on the first hit.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter builds a counter whose keys are namespaced by prefix.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// IncrWindow increments key and starts its expiry when it is new.
func (r *RedisCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := r.prefix + key
	count, err := r.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, full, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// WindowLimiter is a fixed-window limiter shared by every process using the same counter.
type WindowLimiter struct {
	bucket  Bucket
	counter Counter
	now     func() time.Time
}

// NewWindowLimiter creates a limiter over counter.
func NewWindowLimiter(bucket Bucket, counter Counter) *WindowLimiter {
	return &WindowLimiter{bucket: bucket, counter: counter, now: time.Now}
}

// Bucket returns the limiter's parameters.
func (l *WindowLimiter) Bucket() Bucket { return l.bucket }

// Allow counts a hit in the current window.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.bucket.MaxRequests <= 0 {
		return true, nil
	}
	window := l.now().Truncate(l.bucket.Window).UTC().Format("20060102T150405")
	count, err := l.counter.IncrWindow(ctx, key+":"+window, l.bucket.Window)
	if err != nil {
		return false, err
	}
	return count <= int64(l.bucket.MaxRequests), nil
}
