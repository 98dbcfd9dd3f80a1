package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hongminglow/vip-ledger/internal/http/respond"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter counts requests per subject in fixed Redis windows.
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRateLimiter returns a limiter allowing limit requests per window. A nil
// client or non-positive limit disables limiting.
func NewRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "vip-ledger:rate_limit"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window, logger: logger}
}

// Consume counts one request for subject and returns the count in the
// current window with the seconds until it resets.
func (l *RateLimiter) Consume(ctx context.Context, subject string) (int, int, error) {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 {
		return 0, 0, nil
	}
	windowMs := l.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	key := fmt.Sprintf("%s:%s", l.prefix, subject)
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(count), retryAfter, nil
}

// Middleware rejects requests over the limit with 429. The subject is the
// authenticated caller when known, else the client address. Redis errors
// let the request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.client == nil || l.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := CallerFrom(r.Context())
		if subject == "" {
			subject = clientIP(r)
		}
		count, retryAfter, err := l.Consume(r.Context(), subject)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", "subject", subject, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(l.limit-count, 0)))
		if count > l.limit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respond.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
