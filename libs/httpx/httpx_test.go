package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler, mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	for _, bad := range []string{"", "has space", strings.Repeat("x", 65)} {
		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		h.ServeHTTP(rec, req)
		assert.Len(t, seen, 32, bad)
		assert.NotEqual(t, bad, seen)
	}
}

func TestMemoryCounter_WindowResets(t *testing.T) {
	now := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, _ := c.Incr(context.Background(), "other", time.Minute)
	assert.Equal(t, int64(1), n)

	now = now.Add(time.Minute)
	n, _ = c.Incr(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestRateLimiter_BucketsByProviderHeader(t *testing.T) {
	rl := NewRateLimiter(NewMemoryCounter(), quietLogger(), RateLimitConfig{
		Limit:   2,
		Window:  time.Minute,
		KeyFunc: HeaderOrClientKey("X-Provider-Id"),
	})
	h := rl.Middleware()(okHandler)

	do := func(provider string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if provider != "" {
			req.Header.Set("X-Provider-Id", provider)
		}
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("p1").Code)
	assert.Equal(t, http.StatusNoContent, do("p1").Code)
	rec := do("p1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("p2").Code)
	assert.Equal(t, http.StatusNoContent, do("").Code)
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func TestRateLimiter_StoreFailure(t *testing.T) {
	closed := NewRateLimiter(brokenCounter{}, quietLogger(), RateLimitConfig{}).Middleware()(okHandler)
	rec := httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	open := NewRateLimiter(brokenCounter{}, quietLogger(), RateLimitConfig{FailOpen: true}).Middleware()(okHandler)
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", ClientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientKey(req))
}

func TestRedisCounter(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewRedisCounter(rdb)

	mock.ExpectEvalSha(fixedWindowScript.Hash(), []string{"rl:p1"}, int64(60000)).SetVal(int64(4))
	n, err := c.Incr(context.Background(), "rl:p1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	mock.ExpectEvalSha(fixedWindowScript.Hash(), []string{"rl:p1"}, int64(60000)).SetErr(errors.New("connection refused"))
	_, err = c.Incr(context.Background(), "rl:p1", time.Minute)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithAccessLog_PassesThrough(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("taken"))
	}), WithRequestID, WithAccessLog(quietLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "taken", rec.Body.String())
}
