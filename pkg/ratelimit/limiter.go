package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages named rate limiters, one per downstream service.
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter registers a limiter for a service.
// requestsPerSecond is the sustained rate, burst the maximum burst size.
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until the named limiter admits an event or ctx is done.
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("limiter %s not found", name)
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now.
func (m *MultiLimiter) Allow(name string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return limiter.Allow()
}

// Limiter names used across the delivery pipeline.
const (
	LimiterDelivery = "delivery"
	LimiterTwitter  = "twitter"
	LimiterLinkedIn = "linkedin"
	LimiterMastodon = "mastodon"
	LimiterImageGen = "imagegen"
)

// NewDefaultLimiter creates a limiter set with conservative platform defaults.
func NewDefaultLimiter() *MultiLimiter {
	m := NewMultiLimiter()

	// Global job admission: 2 publishes per second, burst 5
	m.AddLimiter(LimiterDelivery, 2, 5)

	// Twitter: 300 requests per 15 min window
	m.AddLimiter(LimiterTwitter, 300.0/(15*60), 10)

	// LinkedIn: 100 requests per day, small burst
	m.AddLimiter(LimiterLinkedIn, 100.0/(24*60*60), 5)

	// Mastodon: 300 per 5 min per account
	m.AddLimiter(LimiterMastodon, 1, 10)

	// Image providers meter per-minute; stay well under
	m.AddLimiter(LimiterImageGen, 10.0/60, 2)

	return m
}
