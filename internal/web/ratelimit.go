// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package web

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default rate limiting values: 100 requests per client per 15 minutes.
const (
	// DefaultBurst is the number of requests a client may make before it
	// is limited.
	DefaultBurst = 100

	// DefaultWindow is the time in which a fully drained bucket refills.
	DefaultWindow = 15 * time.Minute

	// DefaultCleanupInterval is the interval at which idle clients are dropped.
	DefaultCleanupInterval = 5 * time.Minute
)

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	// Enabled turns the limiter on.
	Enabled bool

	// Burst is the bucket size. Defaults to DefaultBurst if zero or negative.
	Burst int

	// Window is the time to refill Burst tokens. Defaults to DefaultWindow if zero.
	Window time.Duration

	// CleanupInterval is the interval for dropping idle clients.
	// Defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration
}

// clientBucket tracks rate limiting state for a single client using the
// token bucket algorithm.
type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements per-client rate limiting using a token bucket.
// It is safe for concurrent use.
//
// A background goroutine drops clients whose bucket has refilled. Call
// Close to stop it.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	burst   int
	rate    float64 // tokens per second
	window  time.Duration
	now     func() time.Time

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return newRateLimiter(cfg, time.Now)
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	rl := &RateLimiter{
		clients:  make(map[string]*clientBucket),
		burst:    burst,
		rate:     float64(burst) / window.Seconds(),
		window:   window,
		now:      now,
		stopChan: make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow reports whether client may make a request and, if not, how long
// until the next token is available. Each allowed call consumes one token.
func (rl *RateLimiter) Allow(client string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	bucket, exists := rl.clients[client]
	if !exists {
		bucket = &clientBucket{
			tokens:    float64(rl.burst),
			lastCheck: now,
		}
		rl.clients[client] = bucket
		rateLimitClients.Set(float64(len(rl.clients)))
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - bucket.tokens
	return false, time.Duration(deficit / rl.rate * float64(time.Second))
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup drops clients not seen within the refill window; their bucket
// would be full again anyway.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-rl.window)
	for client, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, client)
		}
	}
	rateLimitClients.Set(float64(len(rl.clients)))
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine. It blocks until the goroutine has
// stopped and is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopChan)
		rl.wg.Wait()
	})
}

// rateLimitClients tracks the number of clients held by the limiter.
var rateLimitClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "crumbhost_ratelimiter_clients",
	Help: "Current number of clients tracked by the rate limiter",
})
