package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *memCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestLimiter_PerWorker(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)
	l := NewLimiter(Limits{PerWorker: 3}, nil).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "documents")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(context.Background(), "documents")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "worker", d.Scope)
	assert.InDelta(t, 20, d.RetryAfter.Seconds(), 0.01)

	d, err = l.Allow(context.Background(), "bulk")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "queues have separate buckets")
}

func TestLimiter_Aggregate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 45, 0, time.UTC)
	counter := &memCounter{}
	l := NewLimiter(Limits{PerWorker: 100, Aggregate: 2}, counter).WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "bulk")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(context.Background(), "bulk")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "aggregate", d.Scope)
	assert.Equal(t, 15*time.Second, d.RetryAfter)

	key := WindowKey("bulk", now.Truncate(time.Minute))
	assert.Equal(t, int64(3), counter.counts[key])
}

func TestLimiter_CounterFailureAllows(t *testing.T) {
	l := NewLimiter(Limits{PerWorker: 10, Aggregate: 1}, &memCounter{err: errors.New("redis down")})

	d, err := l.Allow(context.Background(), "documents")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

func TestWindowKey(t *testing.T) {
	minute := time.Unix(120, 0)
	assert.Equal(t, "ratelimit:documents:2", WindowKey("documents", minute))
}
