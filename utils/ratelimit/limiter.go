// Package ratelimit throttles job execution per worker and across all workers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Counter increments a shared counter that expires after window.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limits are per-minute ceilings for one queue.
type Limits struct {
	PerWorker int
	Aggregate int
}

// Decision is the result of Allow.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Scope is "worker" or "aggregate" when not allowed.
	Scope string
}

// Limiter combines a local token bucket per queue with an aggregate
// per-minute window counted in shared storage.
type Limiter struct {
	limits  Limits
	counter Counter
	now     func() time.Time

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewLimiter creates a limiter. A nil counter disables the aggregate limit.
func NewLimiter(limits Limits, counter Counter) *Limiter {
	return &Limiter{
		limits:  limits,
		counter: counter,
		now:     time.Now,
		local:   make(map[string]*rate.Limiter),
	}
}

// WithClock replaces the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow decides whether one job on queue may run now. A counter failure is
// returned alongside an allowing decision.
func (l *Limiter) Allow(ctx context.Context, queue string) (Decision, error) {
	now := l.now()

	if l.limits.PerWorker > 0 {
		r := l.bucket(queue).ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return Decision{RetryAfter: delay, Scope: "worker"}, nil
		}
	}

	if l.limits.Aggregate <= 0 || l.counter == nil {
		return Decision{Allowed: true}, nil
	}

	minute := now.Truncate(time.Minute)
	key := WindowKey(queue, minute)
	n, err := l.counter.Increment(ctx, key, 2*time.Minute)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("aggregate rate counter: %w", err)
	}
	if n > int64(l.limits.Aggregate) {
		return Decision{RetryAfter: minute.Add(time.Minute).Sub(now), Scope: "aggregate"}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) bucket(queue string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.local[queue]
	if !ok {
		per := l.limits.PerWorker
		b = rate.NewLimiter(rate.Limit(float64(per)/60.0), per)
		l.local[queue] = b
	}
	return b
}

// WindowKey is the shared counter key for queue's minute.
func WindowKey(queue string, minute time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", queue, minute.Unix()/60)
}
