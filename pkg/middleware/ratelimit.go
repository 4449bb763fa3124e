package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RateLimitConfig bounds requests per key over a window.
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained rate
	RequestsPerWindow int
	WindowDuration    time.Duration
	// BurstSize is extra headroom on top of RequestsPerWindow
	BurstSize int
}

func (c RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Quota is the state of one key after a request was counted.
type Quota struct {
	Limit     int
	Remaining int
	// Reset is when the key is back to its full allowance
	Reset time.Time
	// RetryAfter is set on denial
	RetryAfter time.Duration
}

// Limiter counts a request against key and reports whether it may proceed.
type Limiter interface {
	Take(ctx context.Context, key string) (Quota, bool, error)
}

// RateLimiter is an in-process token bucket limiter. Limits are per replica.
type RateLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter returns a token bucket limiter refilling at
// RequestsPerWindow per WindowDuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Take implements Limiter. It never returns an error.
func (rl *RateLimiter) Take(_ context.Context, key string) (Quota, bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.config.capacity()), lastUpdate: now}
		rl.buckets[key] = b
	}

	rate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	full := float64(rl.config.capacity())
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > full {
		b.tokens = full
	}
	b.lastUpdate = now

	quota := Quota{
		Limit:     rl.config.RequestsPerWindow,
		Remaining: int(b.tokens),
		Reset:     now.Add(secondsToDuration((full - b.tokens) / rate)),
	}
	if b.tokens < 1 {
		quota.RetryAfter = secondsToDuration((1 - b.tokens) / rate)
		return quota, false, nil
	}

	b.tokens--
	quota.Remaining = int(b.tokens)
	quota.Reset = now.Add(secondsToDuration((full - b.tokens) / rate))
	return quota, true, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Cleanup drops buckets idle for two windows, which are full again anyway.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)
	for key, b := range rl.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits identified users by user ID and anonymous
// clients by IP. It must run after IdentityMiddleware.
type RateLimitMiddleware struct {
	user      Limiter
	anonymous Limiter
	failOpen  bool
	logger    *observability.Logger
}

// NewRateLimitMiddleware limits with user and anonymous. When a limiter
// errors the request is allowed; see SetFailOpen.
func NewRateLimitMiddleware(user, anonymous Limiter, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		user:      user,
		anonymous: anonymous,
		failOpen:  true,
		logger:    logger,
	}
}

// SetFailOpen controls whether limiter errors allow the request (true) or
// answer 503 (false).
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps next with rate limiting.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, identified := rateLimitKey(r)
		limiter := m.anonymous
		if identified {
			limiter = m.user
		}

		quota, allowed, err := limiter.Take(r.Context(), key)
		if err != nil {
			if m.logger != nil {
				m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			}
			if !m.failOpen {
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		setQuotaHeaders(w, quota)
		if !allowed {
			retryAfter := int(math.Ceil(quota.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setQuotaHeaders(w http.ResponseWriter, q Quota) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	if !q.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(q.Reset.Unix(), 10))
	}
}

// rateLimitKey keys identified users by id and everyone else by client IP
func rateLimitKey(r *http.Request) (string, bool) {
	if userID, ok := GetUserID(r); ok {
		return fmt.Sprintf("user:%d", userID), true
	}
	return "ip:" + clientIP(r), false
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address without its port.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
