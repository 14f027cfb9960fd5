package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestInMemorySlidingWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)}
	store := NewInMemory()
	store.now = clock.Now

	for i := range 3 {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		clock.Advance(10 * time.Second)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Date(2025, 3, 11, 9, 1, 0, 0, time.UTC), res.ResetAt)
	assert.Equal(t, 30, res.RetryAfter(clock.Now()))

	t.Run("other keys are independent", func(t *testing.T) {
		res, err := store.Allow(ctx, "other", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("the oldest request leaving the window frees a slot", func(t *testing.T) {
		clock.Advance(31 * time.Second)
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})
}

func TestInMemoryConcurrentAllowNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Allow(ctx, "burst", 10, time.Hour)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
