// Package breaker pauses a queue on one worker after a burst of exceptions.
package breaker

import (
	"sync"
	"time"
)

// State of one queue's breaker.
type State int

const (
	// StateClosed means jobs are processed.
	StateClosed State = iota
	// StateOpen means the queue is paused until the cooldown ends.
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Metrics is a snapshot of one queue's breaker.
type Metrics struct {
	TotalExceptions int64
	TotalTrips      int64
	State           State
	OpenUntil       time.Time
}

type queueState struct {
	exceptions      []time.Time
	openUntil       time.Time
	totalExceptions int64
	totalTrips      int64
}

// ExceptionBreaker opens a queue when more than threshold exceptions land
// within window, and keeps it open for cooldown. State is local to the worker.
type ExceptionBreaker struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	queues map[string]*queueState
}

// NewExceptionBreaker creates a breaker. threshold counts exceptions that are
// tolerated; the next one trips it.
func NewExceptionBreaker(threshold int, window, cooldown time.Duration) *ExceptionBreaker {
	return &ExceptionBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
		queues:    make(map[string]*queueState),
	}
}

// WithClock replaces the time source; used by tests.
func (b *ExceptionBreaker) WithClock(now func() time.Time) *ExceptionBreaker {
	b.now = now
	return b
}

// Allow reports whether queue may run a job now, and otherwise how long the
// pause still lasts.
func (b *ExceptionBreaker) Allow(queue string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.state(queue)
	now := b.now()
	if now.Before(q.openUntil) {
		return false, q.openUntil.Sub(now)
	}
	return true, 0
}

// Record counts one exception for queue and reports whether it tripped the breaker.
func (b *ExceptionBreaker) Record(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.state(queue)
	now := b.now()
	q.totalExceptions++

	cutoff := now.Add(-b.window)
	kept := q.exceptions[:0]
	for _, t := range q.exceptions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.exceptions = append(kept, now)

	if len(q.exceptions) > b.threshold {
		q.openUntil = now.Add(b.cooldown)
		q.exceptions = q.exceptions[:0]
		q.totalTrips++
		return true
	}
	return false
}

// State returns the current state of queue's breaker.
func (b *ExceptionBreaker) State(queue string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.now().Before(b.state(queue).openUntil) {
		return StateOpen
	}
	return StateClosed
}

// Metrics returns a snapshot for queue.
func (b *ExceptionBreaker) Metrics(queue string) Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.state(queue)
	state := StateClosed
	if b.now().Before(q.openUntil) {
		state = StateOpen
	}
	return Metrics{
		TotalExceptions: q.totalExceptions,
		TotalTrips:      q.totalTrips,
		State:           state,
		OpenUntil:       q.openUntil,
	}
}

// Reset closes queue's breaker and forgets its exceptions.
func (b *ExceptionBreaker) Reset(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, queue)
}

func (b *ExceptionBreaker) state(queue string) *queueState {
	q, ok := b.queues[queue]
	if !ok {
		q = &queueState{}
		b.queues[queue] = q
	}
	return q
}
