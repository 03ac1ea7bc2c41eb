package gateway

import (
	"context"
	"time"

	"search-sync/domain"

	"github.com/google/uuid"
)

// KeyValueDriver is the Redis surface the coordination gateways need.
type KeyValueDriver interface {
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, key, value string, also ...string) (bool, error)
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// EpochStoreGateway keeps epochs as RFC3339Nano strings under reindex:{index},
// with the temp index name under reindex:{index}:target.
type EpochStoreGateway struct {
	driver KeyValueDriver
}

func NewEpochStoreGateway(driver KeyValueDriver) *EpochStoreGateway {
	return &EpochStoreGateway{driver: driver}
}

func (g *EpochStoreGateway) Get(ctx context.Context, index string) (*domain.Epoch, error) {
	vals, err := g.driver.MGet(ctx, domain.EpochKey(index), domain.EpochTargetKey(index))
	if err != nil {
		return nil, &domain.RepositoryError{Op: "GetEpoch", Err: err.Error()}
	}
	if len(vals) == 0 || vals[0] == "" {
		return nil, nil
	}

	startedAt, err := time.Parse(time.RFC3339Nano, vals[0])
	if err != nil {
		return nil, &domain.RepositoryError{Op: "GetEpoch", Err: "malformed epoch for " + index + ": " + err.Error()}
	}

	epoch := &domain.Epoch{LogicalIndex: index, StartedAt: startedAt}
	if len(vals) > 1 {
		epoch.TargetIndex = vals[1]
	}
	return epoch, nil
}

// Set overwrites any previous epoch and forgets its target.
func (g *EpochStoreGateway) Set(ctx context.Context, epoch domain.Epoch) error {
	if err := g.driver.Del(ctx, domain.EpochTargetKey(epoch.LogicalIndex)); err != nil {
		return &domain.RepositoryError{Op: "SetEpoch", Err: err.Error()}
	}
	value := epoch.StartedAt.UTC().Format(time.RFC3339Nano)
	if err := g.driver.Set(ctx, domain.EpochKey(epoch.LogicalIndex), value); err != nil {
		return &domain.RepositoryError{Op: "SetEpoch", Err: err.Error()}
	}
	if epoch.TargetIndex != "" {
		return g.SetTarget(ctx, epoch.LogicalIndex, epoch.TargetIndex)
	}
	return nil
}

func (g *EpochStoreGateway) SetTarget(ctx context.Context, index, target string) error {
	if err := g.driver.Set(ctx, domain.EpochTargetKey(index), target); err != nil {
		return &domain.RepositoryError{Op: "SetEpochTarget", Err: err.Error()}
	}
	return nil
}

func (g *EpochStoreGateway) Delete(ctx context.Context, index string) error {
	if err := g.driver.Del(ctx, domain.EpochKey(index), domain.EpochTargetKey(index)); err != nil {
		return &domain.RepositoryError{Op: "DeleteEpoch", Err: err.Error()}
	}
	return nil
}

func (g *EpochStoreGateway) DeleteIfStarted(ctx context.Context, index string, startedAt time.Time) (bool, error) {
	value := startedAt.UTC().Format(time.RFC3339Nano)
	deleted, err := g.driver.DelIfEquals(ctx, domain.EpochKey(index), value, domain.EpochTargetKey(index))
	if err != nil {
		return false, &domain.RepositoryError{Op: "DeleteEpoch", Err: err.Error()}
	}
	return deleted, nil
}

// LockGateway implements expiring single-flight locks with owner tokens.
type LockGateway struct {
	driver KeyValueDriver
}

func NewLockGateway(driver KeyValueDriver) *LockGateway {
	return &LockGateway{driver: driver}
}

func (g *LockGateway) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.driver.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", false, &domain.RepositoryError{Op: "AcquireLock", Err: err.Error()}
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (g *LockGateway) Release(ctx context.Context, key, token string) error {
	var err error
	if token == "" {
		err = g.driver.Del(ctx, key)
	} else {
		_, err = g.driver.DelIfEquals(ctx, key, token)
	}
	if err != nil {
		return &domain.RepositoryError{Op: "ReleaseLock", Err: err.Error()}
	}
	return nil
}

// WindowCounterGateway counts rate-limit hits in shared fixed windows.
type WindowCounterGateway struct {
	driver KeyValueDriver
}

func NewWindowCounterGateway(driver KeyValueDriver) *WindowCounterGateway {
	return &WindowCounterGateway{driver: driver}
}

func (g *WindowCounterGateway) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := g.driver.IncrWindow(ctx, key, window)
	if err != nil {
		return 0, &domain.RepositoryError{Op: "IncrementWindow", Err: err.Error()}
	}
	return n, nil
}
