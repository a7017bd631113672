package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *countingLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[key]++
	if l.counts[key] > max {
		return appErr.New(appErr.TooManyRequests)
	}
	return nil
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, int64(7)))
		c.Next()
	})
	r.POST("/tasks", RateLimitMiddleware(limiter, "tasks", RateLimitPolicy{IPMax: 10, UserMax: 2}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tasks", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes: %v", codes)
	}
	if limiter.counts["user:7:tasks"] != 3 {
		t.Fatalf("expected user key to be counted, got %v", limiter.counts)
	}
}

func TestRateLimitMiddlewareNilLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimitMiddleware(nil, "x", RateLimitPolicy{IPMax: 1}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected pass-through, got %d", w.Code)
		}
	}
}
