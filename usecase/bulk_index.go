package usecase

import (
	"context"
	"fmt"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils/otel"
)

// BulkIndexUsecase writes batches of records into an explicit target index.
// It never consults the reindex epoch: rebuild pages go straight to the temp
// index.
type BulkIndexUsecase struct {
	registry *domain.Registry
	source   port.DocumentSource
	backend  port.SearchBackend
}

func NewBulkIndexUsecase(registry *domain.Registry, source port.DocumentSource, backend port.SearchBackend) *BulkIndexUsecase {
	return &BulkIndexUsecase{
		registry: registry,
		source:   source,
		backend:  backend,
	}
}

// Index sends the searchable records of rt to target, at most MaxBulkOperations
// operations per call. Per-document failures are reported in the result; a
// failed call aborts with an error.
func (u *BulkIndexUsecase) Index(ctx context.Context, rt domain.RecordType, target string, records []domain.Searchable) (domain.BulkResult, error) {
	var result domain.BulkResult
	batch := make([]domain.Document, 0, domain.MaxBulkOperations/domain.OperationsPerUpsert)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := u.backend.BulkUpsert(ctx, target, batch)
		if err != nil {
			otel.Metrics.Error(ctx, "bulk_upsert")
			return fmt.Errorf("bulk upsert %d documents into %s: %w", len(batch), target, err)
		}
		if res.Calls == 0 {
			res.Calls = 1
		}
		result.Merge(res)
		otel.Metrics.Indexed(ctx, target, res.Succeeded)
		batch = batch[:0]
		return nil
	}

	for _, r := range records {
		if !r.ShouldBeSearchable() {
			continue
		}
		batch = append(batch, rt.Document(r))
		if len(batch)*domain.OperationsPerUpsert >= domain.MaxBulkOperations {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if result.Failed > 0 {
		log := logger.FromContext(ctx)
		for _, e := range result.Errors {
			log.Warn("bulk item rejected", "index", target, "document_id", e.ID, "kind", e.Kind.String(), "reason", e.Reason)
		}
	}
	return result, nil
}

// Handle runs a bulk_index job: one rebuild page, fetched fresh.
func (u *BulkIndexUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.BulkIndexPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	rt, err := u.registry.Lookup(p.RecordType)
	if err != nil {
		return err
	}
	if p.TargetIndex == "" {
		return domain.Permanent(fmt.Errorf("bulk_index job %s has no target index", job.ID))
	}
	ctx = logger.WithIndex(ctx, p.TargetIndex)

	records, err := u.source.FetchPage(ctx, rt.Name, p.Cutoff, p.Page)
	if err != nil {
		return err
	}

	result, err := u.Index(ctx, rt, p.TargetIndex, records)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("rebuild page indexed",
		"records", len(records),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"calls", result.Calls,
	)
	return nil
}
