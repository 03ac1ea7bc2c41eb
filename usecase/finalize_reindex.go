package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils/otel"
)

// FinalizeReindexUsecase cuts a logical index over to its rebuilt temp index.
type FinalizeReindexUsecase struct {
	backend port.SearchBackend
	epochs  port.EpochStore
	locks   port.LockStore
}

func NewFinalizeReindexUsecase(backend port.SearchBackend, epochs port.EpochStore, locks port.LockStore) *FinalizeReindexUsecase {
	return &FinalizeReindexUsecase{
		backend: backend,
		epochs:  epochs,
		locks:   locks,
	}
}

// Execute points the logical name at the temp index, reads the result back,
// then drops the index that served the name before. The backend retires a
// concrete index of the logical name as part of the alias step, so the name
// always answers. The epoch and the lock of this rebuild are cleared whether
// or not the cutover succeeded.
func (u *FinalizeReindexUsecase) Execute(ctx context.Context, p domain.FinalizeReindexPayload) (err error) {
	logical := p.LogicalIndex
	if logical == "" {
		var ok bool
		if logical, ok = domain.IndexFromEpochKey(p.EpochKey); !ok {
			return domain.Permanent(fmt.Errorf("finalize: cannot derive index from epoch key %q", p.EpochKey))
		}
	}
	ctx = logger.WithIndex(ctx, logical)
	log := logger.FromContext(ctx)

	defer func() {
		u.release(ctx, logical, p.EpochStartedAt, p.LockToken)
		if err != nil {
			otel.Metrics.Rebuild(ctx, logical, "failed")
			log.Error("rebuild cutover failed, operator attention required",
				"temp_index", p.TempIndex,
				"error", err,
			)
			return
		}
		otel.Metrics.Rebuild(ctx, logical, "finalized")
		log.Info("rebuild finalized", "temp_index", p.TempIndex)
	}()

	exists, err := u.backend.IndexExists(ctx, p.TempIndex)
	if err != nil {
		return fmt.Errorf("check temp index %s: %w", p.TempIndex, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrTempIndexMissing, p.TempIndex)
	}

	previous, err := u.backend.ResolveAlias(ctx, logical)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", logical, err)
	}

	if err := u.backend.AssignAlias(ctx, p.TempIndex, logical); err != nil {
		return fmt.Errorf("assign %s to %s: %w", logical, p.TempIndex, err)
	}
	if err := u.verify(ctx, logical, p.TempIndex); err != nil {
		return err
	}

	if previous != "" && previous != p.TempIndex && previous != logical {
		if err := u.backend.DeleteIndex(ctx, previous); err != nil {
			// The cutover stands; the old index only costs space.
			log.Error("previous index not dropped", "previous_index", previous, "error", err)
		}
	}
	return nil
}

// verify accepts the alias pointing at temp, or, for backends that rename
// instead of aliasing, the logical index answering with temp gone.
func (u *FinalizeReindexUsecase) verify(ctx context.Context, logical, temp string) error {
	got, err := u.backend.ResolveAlias(ctx, logical)
	if err != nil {
		return fmt.Errorf("read back %s: %w", logical, err)
	}
	if got == temp {
		return nil
	}
	if got == logical {
		tempExists, err := u.backend.IndexExists(ctx, temp)
		if err != nil {
			return fmt.Errorf("read back %s: %w", temp, err)
		}
		if !tempExists {
			return nil
		}
	}
	return fmt.Errorf("%w: %s resolves to %q, want %q", domain.ErrCutoverUnverified, logical, got, temp)
}

func (u *FinalizeReindexUsecase) release(ctx context.Context, logical string, startedAt time.Time, token string) {
	ctx = context.WithoutCancel(ctx)
	err := errors.Join(
		clearEpoch(ctx, u.epochs, logical, startedAt),
		u.locks.Release(ctx, domain.ReindexLockKey(logical), token),
	)
	if err != nil {
		logger.FromContext(ctx).Error("rebuild state not cleared", "error", err)
	}
}

// clearEpoch deletes the epoch of the rebuild that started at startedAt and
// leaves a newer rebuild's epoch alone. A zero startedAt deletes
// unconditionally.
func clearEpoch(ctx context.Context, epochs port.EpochStore, index string, startedAt time.Time) error {
	if startedAt.IsZero() {
		return epochs.Delete(ctx, index)
	}
	cleared, err := epochs.DeleteIfStarted(ctx, index, startedAt)
	if err != nil {
		return err
	}
	if !cleared {
		logger.FromContext(ctx).Warn("epoch already cleared or owned by a newer rebuild", "epoch", startedAt)
	}
	return nil
}

// Handle runs a finalize_reindex job.
func (u *FinalizeReindexUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.FinalizeReindexPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return u.Execute(ctx, p)
}
