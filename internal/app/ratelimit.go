package app

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitConfig configures per-IP rate limiting for the webhook.
type rateLimitConfig struct {
	// rate is the number of requests allowed per second per IP.
	rate rate.Limit
	// burst is the maximum burst size per IP.
	burst int
	// cleanupInterval is how often stale entries are removed.
	cleanupInterval time.Duration
	// maxAge is how long an idle limiter is kept before eviction.
	maxAge time.Duration
}

// webhookRateLimit sizes the limiter for carrier webhook traffic: one POST
// per incoming call, so even a busy line stays in single digits per second.
// A misconfigured carrier retry loop is what the cap is for.
func webhookRateLimit() rateLimitConfig {
	return rateLimitConfig{
		rate:            rate.Limit(5),
		burst:           10,
		cleanupInterval: 5 * time.Minute,
		maxAge:          10 * time.Minute,
	}
}

// ipEntry tracks a per-IP token bucket and when it was last used.
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter provides per-IP rate limiting with background eviction of idle
// entries, so the map cannot grow without bound.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	cfg     rateLimitConfig
	stopCh  chan struct{}
}

// newIPLimiter creates a per-IP limiter and starts background cleanup.
func newIPLimiter(cfg rateLimitConfig) *ipLimiter {
	rl := &ipLimiter{
		entries: make(map[string]*ipEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// allow checks whether a request from the given IP is allowed.
func (rl *ipLimiter) allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &ipEntry{
			limiter: rate.NewLimiter(rl.cfg.rate, rl.cfg.burst),
		}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// stop terminates the background cleanup goroutine.
func (rl *ipLimiter) stop() {
	close(rl.stopCh)
}

// cleanupLoop periodically removes stale entries.
func (rl *ipLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes entries that have not been seen within maxAge.
func (rl *ipLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.maxAge)
	for ip, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
		}
	}
}

// rateLimit returns middleware that limits requests by client IP. The chi
// RealIP middleware runs earlier in the chain, so RemoteAddr already holds
// the forwarded address when the server sits behind a proxy.
func rateLimit(rl *ipLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.allow(ip) {
				log.Warn("webhook rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's client IP with the port stripped.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
