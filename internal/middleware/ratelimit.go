package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gatekeep/internal/config"
)

// RateLimiter applies per-IP token bucket rate limiting. Buckets
// refill at the configured requests-per-window rate and allow the
// configured burst; idle buckets are cleaned up in the background.
type RateLimiter struct {
	cfg         config.RateLimitConfig
	exemptPaths map[string]bool
	logger      *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientBucket

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	exempt := make(map[string]bool)
	for _, path := range cfg.ExemptPaths {
		exempt[path] = true
	}

	rl := &RateLimiter{
		cfg:         cfg,
		exemptPaths: exempt,
		logger:      logger,
		clients:     make(map[string]*clientBucket),
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given IP fits its budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	bucket, ok := rl.clients[ip]
	if !ok {
		perSecond := float64(rl.cfg.RequestsPerIP) / rl.cfg.WindowSize.Seconds()
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(perSecond), rl.cfg.BurstSize),
		}
		rl.clients[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	rl.mu.Unlock()

	return bucket.limiter.Allow()
}

// IsExempt checks if a path bypasses rate limiting.
func (rl *RateLimiter) IsExempt(path string) bool {
	return rl.exemptPaths[path]
}

// TrackedIPs returns the number of IPs with live buckets.
func (rl *RateLimiter) TrackedIPs() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop() {
	period := rl.cfg.CleanupPeriod
	if period <= 0 {
		period = 5 * time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * rl.cfg.WindowSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, bucket := range rl.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup",
			"removed", removed, "remaining", len(rl.clients))
	}
}

// RateLimit creates middleware that rejects over-budget clients with
// a structured 429 response.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.cfg.Enabled || limiter.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, limiter.cfg.TrustProxy)
			if !limiter.Allow(ip) {
				limiter.logger.Warn("rate limit exceeded",
					"ip", ip, "path", r.URL.Path, "method", r.Method)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.cfg.RequestsPerIP))
				w.Header().Set("X-RateLimit-Window", limiter.cfg.WindowSize.String())
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":     "rate limit exceeded",
					"code":      http.StatusTooManyRequests,
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP. With trustProxy set, the rightmost
// X-Forwarded-For entry wins: it was written by the proxy closest to
// us and cannot be spoofed by the client.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				if ip := strings.TrimSpace(parts[i]); ip != "" {
					return ip
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
