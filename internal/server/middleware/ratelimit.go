package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// RateLimit allows limit requests per window for each client, keyed by the
// verified caller from Signature when present and the client IP otherwise.
// It must run inside Signature. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "api:ip:" + clientIP(r)
			if c, ok := CallerFrom(r.Context()); ok {
				key = "api:addr:" + c.Address
			}

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiterPruneThreshold is the bucket count above which Allow drops idle
// buckets.
const limiterPruneThreshold = 1024

// LocalLimiter is a process-local domain.RateLimiter built from one token
// bucket per key. Buckets refill at limit/window with a burst of limit. A
// bucket untouched for a full window has refilled and is dropped.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	nowFn   func() time.Time
}

type bucket struct {
	lim     *rate.Limiter
	window  time.Duration
	lastUse time.Time
}

// NewLocalLimiter returns an empty LocalLimiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket), nowFn: time.Now}
}

// Allow takes one token from key's bucket.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if len(l.buckets) >= limiterPruneThreshold {
		l.prune(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit), window: window}
		l.buckets[key] = b
	}
	b.lastUse = now
	return b.lim.AllowN(now, 1), nil
}

func (l *LocalLimiter) prune(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastUse) >= b.window {
			delete(l.buckets, k)
		}
	}
}

// Len reports the number of live buckets.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)
