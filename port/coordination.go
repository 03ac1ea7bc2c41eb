package port

import (
	"context"
	"time"

	"search-sync/domain"
)

// EpochStore reads and writes the reindex epoch of a logical index.
type EpochStore interface {
	// Get returns nil when no rebuild is in flight.
	Get(ctx context.Context, index string) (*domain.Epoch, error)
	Set(ctx context.Context, epoch domain.Epoch) error
	SetTarget(ctx context.Context, index, target string) error
	Delete(ctx context.Context, index string) error
	// DeleteIfStarted removes the epoch only while it is the one that started
	// at startedAt, and reports whether it did.
	DeleteIfStarted(ctx context.Context, index string, startedAt time.Time) (bool, error)
}

// LockStore hands out expiring exclusivity tokens.
type LockStore interface {
	// Acquire returns ok=false when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops the lock if token still owns it. An empty token releases unconditionally.
	Release(ctx context.Context, key, token string) error
}

// WindowCounter counts events in a fixed window shared by all workers.
type WindowCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}
