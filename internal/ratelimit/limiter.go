// Package ratelimit provides per-client rate limiting for the relay's
// inbound surface, with in-memory and redis-backed stores.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow reports whether the request for key is within limits.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the limiter.
	Close() error
}

// staleAfter is how long an idle client entry survives before the
// cleanup loop removes it.
const staleAfter = 10 * time.Minute

// cleanupInterval is how often stale client entries are swept.
const cleanupInterval = time.Minute

// clientLimiter pairs a token bucket with its last-seen time.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-client token bucket limiter backed by
// golang.org/x/time/rate. Idle clients are evicted periodically so the
// map does not grow without bound.
type MemoryLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates an in-memory limiter allowing rps sustained
// requests per second with the given burst per client.
func NewMemoryLimiter(rps, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Allow reports whether the request for key is within limits.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl, ok := m.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.clients[key] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter.Allow(), nil
}

// Close stops the cleanup loop.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

// cleanupLoop periodically evicts idle client entries.
func (m *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes entries not seen within staleAfter.
func (m *MemoryLimiter) cleanup() {
	cutoff := time.Now().Add(-staleAfter)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, cl := range m.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}

// size returns the number of tracked clients, for tests.
func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
