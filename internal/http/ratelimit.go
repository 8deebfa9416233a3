package http

import (
	"sync"
	"sync/atomic"
	"time"
)

// rateLimiter caps requests per client IP over fixed one-minute windows.
// The limit and cleanup cadence come from configuration; zero values fall
// back to defaults so tests can construct the struct directly.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow

	limit        int
	cleanupEvery time.Duration

	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

// clientWindow counts requests since the start of the current window.
type clientWindow struct {
	windowStart time.Time
	requests    int
}

func newRateLimiter(limit int, cleanupEvery time.Duration) *rateLimiter {
	rl := &rateLimiter{
		clients:      make(map[string]*clientWindow),
		limit:        limit,
		cleanupEvery: cleanupEvery,
		stopCleanup:  make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients idle for two cleanup intervals.
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.cleanupInterval())
	for ip, client := range rl.clients {
		if client.windowStart.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// stop gracefully shuts down the rate limiter cleanup goroutine.
func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

// allow reports whether a request from the given IP fits in its current
// window, counting a metrics hit when it does not.
func (rl *rateLimiter) allow(clientIP string, metrics *securityMetrics) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists || now.Sub(client.windowStart) > time.Minute {
		rl.clients[clientIP] = &clientWindow{windowStart: now, requests: 1}
		return true
	}

	client.requests++
	if client.requests > rl.maxPerWindow() {
		if metrics != nil {
			atomic.AddInt64(&metrics.rateLimitHits, 1)
		}
		return false
	}
	return true
}

func (rl *rateLimiter) maxPerWindow() int {
	if rl.limit <= 0 {
		return 60
	}
	return rl.limit
}

func (rl *rateLimiter) cleanupInterval() time.Duration {
	if rl.cleanupEvery <= 0 {
		return 5 * time.Minute
	}
	return rl.cleanupEvery
}
