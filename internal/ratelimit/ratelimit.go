// Package ratelimit provides sliding-window rate limiting with in-memory
// and Redis-backed implementations.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed under a
// limit of `limit` requests per `window`. When the request is rejected,
// retryAfter reports how long until the oldest counted request falls out of
// the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryLimiter is a process-local sliding-window limiter. Suitable for a
// single instance deployment or as a fallback when Redis is unavailable.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time // key -> request timestamps, oldest first
}

// NewMemoryLimiter creates an in-memory sliding window limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string][]time.Time)}
}

// Allow counts the request against the key's window unless the limit has
// already been reached.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	stamps := l.windows[key]
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= limit {
		l.windows[key] = live
		retryAfter := live[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	l.windows[key] = append(live, now)
	return true, 0, nil
}

// Cleanup drops keys whose every timestamp is older than window. Called
// periodically to prevent unbounded memory growth.
func (l *MemoryLimiter) Cleanup(window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-window)
	for key, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Compile-time interface check.
var _ Limiter = (*MemoryLimiter)(nil)
