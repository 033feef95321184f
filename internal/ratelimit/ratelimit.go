// Package ratelimit counts requests per client in fixed windows.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xtrntr/unifi/internal/metrics"
)

const (
	DefaultWindow = 15 * time.Minute
	DefaultMax    = 100
	keyPrefix     = "unifi:ratelimit:"
)

// Limit is the number of requests allowed per window
type Limit struct {
	Max    int
	Window time.Duration
}

// Result is the outcome of counting one request
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
}

// Limiter counts a request against key
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

func result(count int64, ttl time.Duration, limit Limit) *Result {
	remaining := limit.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: count <= int64(limit.Max), Remaining: remaining, ResetAfter: ttl}
}

// RedisLimiter keeps counters in Redis so every API instance shares them
type RedisLimiter struct {
	client redis.UniversalClient
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments the window counter. The first hit of a window creates the
// key with its expiry; later hits leave the expiry alone.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	key = keyPrefix + key

	pipe := l.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, limit.Window)
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return result(incr.Val(), ttl.Val(), limit), nil
}

// MemoryLimiter keeps counters in process. It is used when no Redis is configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(l.windows) > 10000 {
			l.evict(now)
		}
		w = &window{resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}
	w.count++
	return result(w.count, w.resetAt.Sub(now), limit), nil
}

func (l *MemoryLimiter) evict(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// Middleware limits requests per client IP. Limiter failures let the request through.
func Middleware(limiter Limiter, limit Limit, logger *slog.Logger) func(http.Handler) http.Handler {
	if limit.Max <= 0 {
		limit.Max = DefaultMax
	}
	if limit.Window <= 0 {
		limit.Window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), clientIP(r), limit)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

			if !res.Allowed {
				metrics.RecordRateLimited()
				w.Header().Set("Retry-After", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects middleware.RealIP to have run when behind a proxy
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
