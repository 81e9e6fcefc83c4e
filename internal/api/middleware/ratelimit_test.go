package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendAllow(t *testing.T) {
	b := NewLocalBackend()
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _ := b.Allow(ctx, "k", 3, time.Minute)
		require.True(t, allowed, "request %d", i)
	}
	allowed, remaining, _ := b.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	// One token refills every 20s.
	now = now.Add(21 * time.Second)
	allowed, _, _ = b.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, allowed)

	allowed, _, _ = b.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, allowed)
}

func TestLocalBackendBlocks(t *testing.T) {
	b := NewLocalBackend()
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	b.Block(ctx, "1.2.3.4", time.Hour, "test")
	assert.True(t, b.IsBlocked(ctx, "1.2.3.4"))
	now = now.Add(2 * time.Hour)
	assert.False(t, b.IsBlocked(ctx, "1.2.3.4"))

	assert.Equal(t, int64(1), b.Violation(ctx, "1.2.3.4"))
	assert.Equal(t, int64(2), b.Violation(ctx, "1.2.3.4"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(NewLocalBackend(), zerolog.Nop(), RateLimiterConfig{
		Whitelist:        []string{"10.0.0.0/8"},
		AutoBlockEnabled: true,
	})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/register", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, send("192.0.2.1").Code)
	}
	rec := send("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, send("10.1.2.3").Code)
	}
}

func TestFindLimitPrefersLongestPrefix(t *testing.T) {
	rl := NewRateLimiter(NewLocalBackend(), zerolog.Nop(), RateLimiterConfig{})

	post := httptest.NewRequest(http.MethodPost, "/room/abc", nil)
	require.NotNil(t, rl.findLimit(post))
	assert.Equal(t, "POST /room/", rl.findLimit(post).Pattern)

	create := httptest.NewRequest(http.MethodPost, "/room", nil)
	assert.Equal(t, "POST /room", rl.findLimit(create).Pattern)

	assert.Nil(t, rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil)))
}
