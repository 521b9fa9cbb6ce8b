package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(Bucket{Name: "submit", MaxRequests: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(context.Background(), "ip"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(context.Background(), "ip"); ok {
		t.Fatal("third request should be limited")
	}
	if ok, _ := l.Allow(context.Background(), "other"); !ok {
		t.Fatal("other keys are independent")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(context.Background(), "ip"); !ok {
		t.Fatal("request after the window should be allowed")
	}

	now = now.Add(2 * time.Minute)
	l.Prune()
	if len(l.hits) != 0 {
		t.Fatalf("expected idle keys to be pruned, got %d", len(l.hits))
	}
}

func TestMemoryLimiterZeroMaxDisables(t *testing.T) {
	l := NewMemoryLimiter(Bucket{Name: "submit", Window: time.Minute})
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(context.Background(), "ip"); !ok {
			t.Fatal("limiter with no max should allow everything")
		}
	}
}

type stubCounter struct {
	counts map[string]int64
	err    error
}

func (s *stubCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func TestWindowLimiter(t *testing.T) {
	counter := &stubCounter{counts: map[string]int64{}}
	now := time.Unix(1_700_000_000, 0)
	l := NewWindowLimiter(Bucket{Name: "submit", MaxRequests: 1, Window: time.Minute}, counter)
	l.now = func() time.Time { return now }

	if ok, err := l.Allow(context.Background(), "ip"); !ok || err != nil {
		t.Fatalf("first request should pass, got %v %v", ok, err)
	}
	if ok, _ := l.Allow(context.Background(), "ip"); ok {
		t.Fatal("second request in the window should be limited")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(context.Background(), "ip"); !ok {
		t.Fatal("next window should reset the count")
	}
}

func TestMiddlewareRejectsOverLimitAndFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limited := NewMemoryLimiter(Bucket{Name: "api", MaxRequests: 1, Window: time.Minute})
	router := gin.New()
	router.POST("/limited", Middleware(limited, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	broken := NewWindowLimiter(Bucket{Name: "api", MaxRequests: 1, Window: time.Minute}, &stubCounter{err: errors.New("redis down")})
	router.POST("/broken", Middleware(broken, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/limited", nil))
		codes = append(codes, resp.Code)
		if resp.Code == http.StatusTooManyRequests && resp.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", resp.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/broken", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("limiter errors should fail open, got %d", resp.Code)
		}
	}
}
