package usecase

import (
	"context"
	"errors"
	"fmt"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils/otel"
)

// AbortReindexUsecase runs when a rebuild chain fails. It clears the epoch,
// drops the temp index and releases the lock.
type AbortReindexUsecase struct {
	backend port.SearchBackend
	epochs  port.EpochStore
	locks   port.LockStore
}

func NewAbortReindexUsecase(backend port.SearchBackend, epochs port.EpochStore, locks port.LockStore) *AbortReindexUsecase {
	return &AbortReindexUsecase{
		backend: backend,
		epochs:  epochs,
		locks:   locks,
	}
}

func (u *AbortReindexUsecase) Execute(ctx context.Context, p domain.AbortReindexPayload) error {
	ctx = logger.WithIndex(context.WithoutCancel(ctx), p.LogicalIndex)
	log := logger.FromContext(ctx)
	var errs []error

	if err := clearEpoch(ctx, u.epochs, p.LogicalIndex, p.EpochStartedAt); err != nil {
		errs = append(errs, fmt.Errorf("delete epoch: %w", err))
	}

	if p.TempIndex != "" {
		if drop, err := u.safeToDrop(ctx, p); err != nil {
			errs = append(errs, err)
		} else if drop {
			if err := u.backend.DeleteIndex(ctx, p.TempIndex); err != nil {
				errs = append(errs, fmt.Errorf("delete temp index %s: %w", p.TempIndex, err))
			}
		} else {
			log.Error("temp index kept, the logical index is not served by its previous index",
				"temp_index", p.TempIndex,
				"previous_index", p.PreviousIndex,
			)
		}
	}

	if err := u.locks.Release(ctx, domain.ReindexLockKey(p.LogicalIndex), p.LockToken); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	otel.Metrics.Rebuild(ctx, p.LogicalIndex, "aborted")
	if err := errors.Join(errs...); err != nil {
		log.Error("rebuild abort incomplete", "temp_index", p.TempIndex, "error", err)
		return err
	}
	log.Warn("rebuild aborted", "temp_index", p.TempIndex)
	return nil
}

// safeToDrop allows dropping temp only while the index that served the
// logical name before the rebuild still serves it. Anything else, including
// temp itself, nothing at all, or an index created during the rebuild,
// keeps temp as the only complete copy.
func (u *AbortReindexUsecase) safeToDrop(ctx context.Context, p domain.AbortReindexPayload) (bool, error) {
	current, err := u.backend.ResolveAlias(ctx, p.LogicalIndex)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", p.LogicalIndex, err)
	}
	return current != "" && current != p.TempIndex && current == p.PreviousIndex, nil
}

// Handle runs an abort_reindex job.
func (u *AbortReindexUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.AbortReindexPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return u.Execute(ctx, p)
}
