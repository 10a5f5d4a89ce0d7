package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// RatePerSecond is the sustained rate allowed per caller.
	RatePerSecond float64
	// Burst is the burst size (max requests in a burst).
	Burst int
	// AnonRatePerSecond is the rate for unidentified callers, keyed by IP.
	AnonRatePerSecond float64
	// AnonBurst is the burst size for unidentified callers.
	AnonBurst int
	// CleanupInterval is how often to clean up idle limiters.
	CleanupInterval time.Duration
	// MaxAge is how long to keep a limiter after last use.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RatePerSecond:     1000,
		Burst:             2000,
		AnonRatePerSecond: 10,
		AnonBurst:         20,
		CleanupInterval:   5 * time.Minute,
		MaxAge:            10 * time.Minute,
	}
}

// rateLimiterEntry holds a limiter and its last access time.
type rateLimiterEntry struct {
	limiter      *rate.Limiter
	lastSeenNano atomic.Int64
}

// RateLimiter manages per-caller rate limiters.
type RateLimiter struct {
	config   RateLimitConfig
	limiters sync.Map // map[string]*rateLimiterEntry
	stopCh   chan struct{}
}

// NewRateLimiter creates a rate limiter with the given config and
// starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config: config,
		stopCh: make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup periodically removes idle limiters.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.limiters.Range(func(key, value any) bool {
				entry := value.(*rateLimiterEntry)
				lastSeen := time.Unix(0, entry.lastSeenNano.Load())
				if now.Sub(lastSeen) > rl.config.MaxAge {
					rl.limiters.Delete(key)
				}
				return true
			})
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// getLimiter returns or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string, ratePerSecond float64, burst int) *rate.Limiter {
	now := time.Now().UnixNano()

	if val, ok := rl.limiters.Load(key); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeenNano.Store(now)
		return entry.limiter
	}

	entry := &rateLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
	entry.lastSeenNano.Store(now)
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*rateLimiterEntry).limiter
}

// Allow checks if a request is allowed for the given key and rate.
func (rl *RateLimiter) Allow(key string, ratePerSecond float64, burst int) bool {
	return rl.getLimiter(key, ratePerSecond, burst).Allow()
}

// RateLimit creates middleware that enforces per-caller rate limits.
// Identified callers get the standard rate; anonymous requests are
// keyed by IP with stricter limits.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			var ratePerSecond float64
			var burst int

			caller := GetCaller(r.Context())
			if caller != AnonymousCaller {
				key = "caller:" + caller
				ratePerSecond = rl.config.RatePerSecond
				burst = rl.config.Burst
			} else {
				ip := r.RemoteAddr
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					ip = host
				}
				key = "ip:" + ip
				ratePerSecond = rl.config.AnonRatePerSecond
				burst = rl.config.AnonBurst
			}

			if !rl.Allow(key, ratePerSecond, burst) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(ratePerSecond, 'f', -1, 64))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
