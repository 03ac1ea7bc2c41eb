package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils/otel"
)

const (
	DefaultLockTTL  = 6 * time.Hour
	DefaultPageSize = domain.MaxBulkOperations / domain.OperationsPerUpsert
)

type ReindexConfig struct {
	LockTTL  time.Duration
	PageSize int
}

// ReindexPlan describes a rebuild that was started.
type ReindexPlan struct {
	RecordType   string
	LogicalIndex string
	TempIndex    string
	// PreviousIndex served the logical name when the rebuild started.
	PreviousIndex string
	StartedAt     time.Time
	Pages         int
	ChainID       string
}

// ReindexUsecase starts a zero-downtime rebuild: it takes the per-index lock,
// writes the epoch, provisions a temp index, and submits one chain of bulk
// pages ending in a finalize step.
type ReindexUsecase struct {
	registry *domain.Registry
	source   port.DocumentSource
	backend  port.SearchBackend
	epochs   port.EpochStore
	locks    port.LockStore
	queue    port.JobQueue
	cfg      ReindexConfig
	now      func() time.Time
}

func NewReindexUsecase(
	registry *domain.Registry,
	source port.DocumentSource,
	backend port.SearchBackend,
	epochs port.EpochStore,
	locks port.LockStore,
	queue port.JobQueue,
	cfg ReindexConfig,
) *ReindexUsecase {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.PageSize <= 0 || cfg.PageSize*domain.OperationsPerUpsert > domain.MaxBulkOperations {
		cfg.PageSize = DefaultPageSize
	}
	return &ReindexUsecase{
		registry: registry,
		source:   source,
		backend:  backend,
		epochs:   epochs,
		locks:    locks,
		queue:    queue,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for the epoch timestamp.
func (u *ReindexUsecase) WithClock(now func() time.Time) *ReindexUsecase {
	u.now = now
	return u
}

// Execute starts a rebuild of recordType. It returns ErrReindexInFlight when
// another rebuild of the same index holds the lock.
func (u *ReindexUsecase) Execute(ctx context.Context, recordType string) (*ReindexPlan, error) {
	rt, err := u.registry.Lookup(recordType)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithIndex(ctx, rt.Index)
	log := logger.FromContext(ctx)

	lockKey := domain.ReindexLockKey(rt.Index)
	token, ok, err := u.locks.Acquire(ctx, lockKey, u.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", lockKey, err)
	}
	if !ok {
		otel.Metrics.Rejected(ctx, rt.Index)
		log.Info("rebuild rejected, another one holds the lock")
		return nil, domain.ErrReindexInFlight
	}

	startedAt := u.now().UTC()
	plan := &ReindexPlan{
		RecordType:   rt.Name,
		LogicalIndex: rt.Index,
		TempIndex:    domain.TempIndexName(rt.Index, startedAt),
		StartedAt:    startedAt,
		ChainID:      uuid.NewString(),
	}

	created := false
	fail := func(stage string, cause error) (*ReindexPlan, error) {
		u.cleanup(ctx, plan, token, created)
		otel.Metrics.Rebuild(ctx, rt.Index, "failed")
		log.Error("rebuild failed to start", "stage", stage, "error", cause)
		return nil, fmt.Errorf("start rebuild of %s (%s): %w", rt.Index, stage, cause)
	}

	previous, err := u.backend.ResolveAlias(ctx, rt.Index)
	if err != nil {
		return fail("resolve", err)
	}
	plan.PreviousIndex = previous

	if err := u.epochs.Set(ctx, domain.Epoch{LogicalIndex: rt.Index, StartedAt: startedAt}); err != nil {
		return fail("epoch", err)
	}
	if err := u.backend.CreateIndex(ctx, plan.TempIndex, rt.Mapping); err != nil {
		return fail("create_index", err)
	}
	created = true
	if err := u.epochs.SetTarget(ctx, rt.Index, plan.TempIndex); err != nil {
		return fail("epoch_target", err)
	}

	var steps []domain.Job
	err = u.source.ScanPages(ctx, rt.Name, startedAt, u.cfg.PageSize, func(page domain.PageRef) error {
		job, err := domain.NewJob(domain.JobBulkIndex, domain.BulkIndexPayload{
			RecordType:  rt.Name,
			TargetIndex: plan.TempIndex,
			Cutoff:      startedAt,
			Page:        page,
		})
		if err != nil {
			return err
		}
		steps = append(steps, job)
		return nil
	})
	if err != nil {
		return fail("scan", err)
	}
	plan.Pages = len(steps)

	finalize, err := domain.NewJob(domain.JobFinalizeReindex, domain.FinalizeReindexPayload{
		LogicalIndex:   rt.Index,
		TempIndex:      plan.TempIndex,
		EpochKey:       domain.EpochKey(rt.Index),
		EpochStartedAt: startedAt,
		LockToken:      token,
	})
	if err != nil {
		return fail("chain", err)
	}
	abort, err := domain.NewJob(domain.JobAbortReindex, domain.AbortReindexPayload{
		LogicalIndex:   rt.Index,
		TempIndex:      plan.TempIndex,
		EpochStartedAt: startedAt,
		PreviousIndex:  previous,
		LockToken:      token,
	})
	if err != nil {
		return fail("chain", err)
	}

	chain := domain.Chain{
		ID:        plan.ChainID,
		Steps:     append(steps, finalize),
		OnFailure: &abort,
	}
	if err := u.queue.SubmitChain(ctx, chain); err != nil {
		return fail("submit", err)
	}

	otel.Metrics.Rebuild(ctx, rt.Index, "started")
	log.Info("rebuild started",
		"temp_index", plan.TempIndex,
		"epoch", startedAt,
		"pages", plan.Pages,
		"chain_id", plan.ChainID,
	)
	return plan, nil
}

// Handle runs a reindex job.
func (u *ReindexUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.ReindexPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.Reason != "" {
		logger.FromContext(ctx).Info("rebuild requested", "record_type", p.RecordType, "reason", p.Reason)
	}
	_, err := u.Execute(ctx, p.RecordType)
	return err
}

// cleanup undoes a partially started rebuild. It runs even if ctx was
// cancelled.
func (u *ReindexUsecase) cleanup(ctx context.Context, plan *ReindexPlan, token string, created bool) {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if err := clearEpoch(ctx, u.epochs, plan.LogicalIndex, plan.StartedAt); err != nil {
		errs = append(errs, fmt.Errorf("delete epoch: %w", err))
	}
	if created {
		if err := u.backend.DeleteIndex(ctx, plan.TempIndex); err != nil {
			errs = append(errs, fmt.Errorf("delete temp index: %w", err))
		}
	}
	if err := u.locks.Release(ctx, domain.ReindexLockKey(plan.LogicalIndex), token); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.FromContext(ctx).Error("rebuild cleanup incomplete", "temp_index", plan.TempIndex, "error", err)
	}
}
