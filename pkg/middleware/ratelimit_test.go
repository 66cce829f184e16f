package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func limitedHandler(store *clientStore) http.Handler {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return rateLimit(store, l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BurstThen429(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := limitedHandler(newClientStore(RateLimitConfig{RPS: 1, Burst: 3}, clock.Now))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000").Code, "request %d", i+1)
	}

	rec := hit(h, "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000").Code)
}

func TestRateLimit_ClientsAreIndependent(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := limitedHandler(newClientStore(RateLimitConfig{RPS: 1, Burst: 1}, clock.Now))

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:2000").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1000").Code)
}

func TestRateLimit_IgnoresForwardedFor(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := limitedHandler(newClientStore(RateLimitConfig{RPS: 1, Burst: 1}, clock.Now))

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000").Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newClientStore(RateLimitConfig{RPS: 1, Burst: 1, IdleTTL: time.Minute}, clock.Now)

	store.allow("10.0.0.1")
	store.allow("10.0.0.2")
	assert.Equal(t, 2, store.size())

	clock.Advance(2 * time.Minute)
	store.allow("10.0.0.3")
	assert.Equal(t, 1, store.size())
}
