package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_RejectsOverLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, _, err := l.Allow(ctx, "user:1", 10, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, retryAfter, err := l.Allow(ctx, "user:1", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "11th request in the window is rejected")
	assert.Greater(t, retryAfter, 59*time.Second)
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := l.Allow(ctx, "user:1", 5, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _, err := l.Allow(ctx, "user:1", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, err = l.Allow(ctx, "user:2", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "another key has its own window")
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	window := 30 * time.Millisecond

	allowed, _, err := l.Allow(ctx, "user:1", 1, window)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = l.Allow(ctx, "user:1", 1, window)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(window + 10*time.Millisecond)

	allowed, _, err = l.Allow(ctx, "user:1", 1, window)
	require.NoError(t, err)
	assert.True(t, allowed, "window slid past the old request")
}

func TestMemoryLimiter_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	const attempts = 50
	const limit = 10
	var allowedCount int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := l.Allow(ctx, "user:1", limit, time.Minute)
			require.NoError(t, err)
			if allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowedCount)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	window := 10 * time.Millisecond

	for i := 0; i < 3; i++ {
		_, _, err := l.Allow(ctx, fmt.Sprintf("user:%d", i), 5, window)
		require.NoError(t, err)
	}

	time.Sleep(window + 5*time.Millisecond)
	l.Cleanup(window)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.windows)
}
