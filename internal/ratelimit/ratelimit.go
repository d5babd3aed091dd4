// Package ratelimit implements a per-key token bucket, used to bound
// POST /route/plan throughput per source identity.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter is a token-bucket rate limiter keyed by an arbitrary source
// identity string (tenant id, API key, remote address — whatever the
// caller chooses). Grounded on the original implementation's RateLimiter,
// reimplemented with per-key mutexes instead of a DashMap since Go's
// sync.Map already gives lock-free reads for the common case of an
// existing key.
type Limiter struct {
	capacity      float64
	refillPerSec  float64
	buckets       sync.Map // string -> *bucket
}

// New creates a Limiter with the given burst capacity and steady-state
// refill rate (tokens per second).
func New(capacity int, refillPerSec float64) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &Limiter{capacity: float64(capacity), refillPerSec: refillPerSec}
}

// Allow reports whether a request from key may proceed right now,
// consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	v, _ := l.buckets.LoadOrStore(key, &bucket{tokens: l.capacity, lastRefill: time.Now()})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.refillPerSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
