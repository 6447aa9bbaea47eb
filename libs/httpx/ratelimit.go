package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore counts hits on key within a fixed window that starts with the
// first hit.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a fixed-window limiter over a CounterStore. Use the memory
// store for a single instance and Redis when replicas share the budget.
type RateLimiter struct {
	store    CounterStore
	limit    int
	window   time.Duration
	prefix   string
	keyFunc  func(*http.Request) string
	failOpen bool
	logger   *slog.Logger
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	Prefix string
	// KeyFunc buckets requests; the client address is used when nil.
	KeyFunc func(*http.Request) string
	// FailOpen lets requests through when the store errors.
	FailOpen bool
}

func NewRateLimiter(store CounterStore, logger *slog.Logger, cfg RateLimitConfig) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "rl"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		store:    store,
		limit:    cfg.Limit,
		window:   cfg.Window,
		prefix:   cfg.Prefix,
		keyFunc:  cfg.KeyFunc,
		failOpen: cfg.FailOpen,
		logger:   logger,
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, err := rl.store.Incr(r.Context(), rl.prefix+":"+rl.keyFunc(r), rl.window)
			if err != nil {
				rl.logger.Warn("rate limiter store error", "err", err)
				if rl.failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if count > int64(rl.limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller by the first X-Forwarded-For hop or the
// remote address.
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// HeaderOrClientKey buckets by a request header, such as a tenant id, and
// falls back to the client address when it is absent.
func HeaderOrClientKey(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return header + "=" + v
		}
		return ClientKey(r)
	}
}

type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*counterWindow
}

type counterWindow struct {
	count int64
	reset time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{now: time.Now, windows: map[string]*counterWindow{}}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cw := m.windows[key]
	if cw == nil || !now.Before(cw.reset) {
		cw = &counterWindow{reset: now.Add(window)}
		m.windows[key] = cw
	}
	cw.count++
	return cw.count, nil
}

type RedisCounter struct {
	rdb redis.Scripter
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisCounter(rdb redis.Scripter) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = time.Minute.Milliseconds()
	}
	res, err := fixedWindowScript.Run(ctx, c.rdb, []string{key}, ms).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}
