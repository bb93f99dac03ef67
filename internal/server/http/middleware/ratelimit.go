// Package middleware provides HTTP middleware for the msgr operator API.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter defaults.
const (
	DefaultMaxRequests = 30
	DefaultWindow      = time.Minute
	DefaultCleanup     = 5 * time.Minute
)

// RateLimiter is a sliding-window limiter keyed by an arbitrary string
// (usually the client IP).
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clock       clock.Clock

	mu      sync.Mutex
	buckets map[string][]time.Time
	done    chan struct{}
	once    sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxRequests sets the number of requests allowed per window.
func WithMaxRequests(n int) RateLimiterOption {
	return func(r *RateLimiter) {
		if n > 0 {
			r.maxRequests = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) RateLimiterOption {
	return func(r *RateLimiter) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		maxRequests: DefaultMaxRequests,
		window:      DefaultWindow,
		clock:       clock.New(),
		buckets:     make(map[string][]time.Time),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cleanupLoop()
	return r
}

// Allow records a request for key and reports whether it is within limits.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	hits := r.prune(key, now)
	if len(hits) >= r.maxRequests {
		return false
	}
	r.buckets[key] = append(hits, now)
	return true
}

// Remaining returns how many more requests key may make in this window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.maxRequests - len(r.prune(key, r.clock.Now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limit returns the configured requests per window.
func (r *RateLimiter) Limit() int {
	return r.maxRequests
}

// Reset forgets key.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}

// Close stops the cleanup loop.
func (r *RateLimiter) Close() {
	r.once.Do(func() { close(r.done) })
}

// prune drops hits older than the window. Caller holds r.mu.
func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	hits := r.buckets[key]
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(r.buckets, key)
		return nil
	}
	r.buckets[key] = hits
	return hits
}

func (r *RateLimiter) cleanupLoop() {
	ticker := r.clock.Ticker(DefaultCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for key := range r.buckets {
		r.prune(key, now)
	}
}

// KeyExtractor derives the rate limit key from a request.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys by the remote IP. Forwarding headers are ignored;
// the operator API is not meant to sit behind a proxy.
func IPKeyExtractor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns middleware that answers 429 once a key exceeds the
// limiter. A nil extractor keys by IP.
func RateLimit(limiter *RateLimiter, keyExtractor KeyExtractor) func(http.Handler) http.Handler {
	if keyExtractor == nil {
		keyExtractor = IPKeyExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)

			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED"}`))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
			next.ServeHTTP(w, r)
		})
	}
}
