package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/homebank/internal/clock"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter per key, kept in memory.
type RateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
}

func NewRateLimiter(clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RateLimiter{
		clock:   clk,
		windows: make(map[string]*window),
	}
}

// Allow reports whether key is still under limit in the current window, and
// how long until the window resets.
func (rl *RateLimiter) Allow(key string, limit int, per time.Duration) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	win, ok := rl.windows[key]
	if !ok || !now.Before(win.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Add(per)}
		return true, per
	}
	win.count++
	return win.count <= limit, win.resetAt.Sub(now)
}

// Cleanup drops windows that have already reset. The scheduler calls it
// alongside session cleanup.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for key, win := range rl.windows {
		if !now.Before(win.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests over limit per window for the key keyFunc
// derives, answering 429 with Retry-After.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, per time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.Allow(keyFunc(r), limit, per)
			if !ok {
				secs := int(retry.Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
