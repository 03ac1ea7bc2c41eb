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

// IndexOutcome says what IndexRecord did with a record.
type IndexOutcome string

const (
	OutcomeIndexed          IndexOutcome = "indexed"
	OutcomeSkipped          IndexOutcome = "skipped"
	OutcomeDeleted          IndexOutcome = "deleted"
	OutcomeReindexRequested IndexOutcome = "reindex_requested"
)

// IndexDocumentUsecase writes one record into its logical index, guarded by
// the reindex epoch.
type IndexDocumentUsecase struct {
	registry *domain.Registry
	source   port.DocumentSource
	backend  port.SearchBackend
	epochs   port.EpochStore
	queue    port.JobQueue
	deleter  *DeleteDocumentUsecase
}

func NewIndexDocumentUsecase(
	registry *domain.Registry,
	source port.DocumentSource,
	backend port.SearchBackend,
	epochs port.EpochStore,
	queue port.JobQueue,
	deleter *DeleteDocumentUsecase,
) *IndexDocumentUsecase {
	return &IndexDocumentUsecase{
		registry: registry,
		source:   source,
		backend:  backend,
		epochs:   epochs,
		queue:    queue,
		deleter:  deleter,
	}
}

// Handle runs an index_document job. The record is always loaded fresh.
func (u *IndexDocumentUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.IndexDocumentPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	rt, err := u.registry.Lookup(p.RecordType)
	if err != nil {
		return err
	}
	ctx = logger.WithRecord(ctx, rt.Name, p.RecordID)

	record, err := u.source.Find(ctx, rt.Name, p.RecordID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		_, err = u.deleter.Delete(ctx, rt.Index, p.RecordID)
		return err
	}
	if err != nil {
		return err
	}

	_, err = u.IndexRecord(ctx, rt, record)
	return err
}

// IndexRecord upserts record unless a rebuild already covers it. A mapping
// rejection schedules a rebuild of the record type and is not an error.
func (u *IndexDocumentUsecase) IndexRecord(ctx context.Context, rt domain.RecordType, record domain.Searchable) (IndexOutcome, error) {
	ctx = logger.WithIndex(ctx, rt.Index)
	log := logger.FromContext(ctx)

	if !record.ShouldBeSearchable() {
		if _, err := u.deleter.Delete(ctx, rt.Index, record.SearchableID()); err != nil {
			return "", err
		}
		return OutcomeDeleted, nil
	}

	epoch, err := u.epochs.Get(ctx, rt.Index)
	if err != nil {
		return "", err
	}

	if epoch.Covers(record.LastModified()) {
		otel.Metrics.Skipped(ctx, rt.Index)
		log.Debug("write skipped, rebuild covers it",
			"record_id", record.SearchableID(),
			"last_modified", record.LastModified(),
			"epoch", epoch.StartedAt,
		)
		return OutcomeSkipped, nil
	}
	if epoch != nil && !epoch.Provisioned() {
		return "", domain.ErrRebuildProvisioning
	}

	doc := rt.Document(record)

	err = u.backend.Upsert(ctx, rt.Index, doc)
	switch {
	case err == nil:
		otel.Metrics.Indexed(ctx, rt.Index, 1)
	case domain.IsMappingError(err):
		log.Warn("document rejected by mapping, requesting rebuild", "record_id", doc.ID, "error", err)
		if err := u.requestReindex(ctx, rt, err.Error()); err != nil {
			return "", err
		}
		return OutcomeReindexRequested, nil
	case domain.IsNotFound(err) && epoch != nil:
		// First build of this index: only the temp index exists so far.
	case domain.IsNotFound(err):
		log.Warn("index missing, requesting rebuild", "record_id", doc.ID)
		if err := u.requestReindex(ctx, rt, "index missing"); err != nil {
			return "", err
		}
		return OutcomeReindexRequested, nil
	default:
		otel.Metrics.Error(ctx, "upsert")
		return "", fmt.Errorf("upsert %s into %s: %w", doc.ID, rt.Index, err)
	}

	if epoch.Provisioned() {
		if err := u.backend.Upsert(ctx, epoch.TargetIndex, doc); err != nil {
			if !domain.IsMappingError(err) {
				otel.Metrics.Error(ctx, "mirror")
				return "", fmt.Errorf("mirror %s into %s: %w", doc.ID, epoch.TargetIndex, err)
			}
			log.Warn("document rejected by rebuild target mapping", "record_id", doc.ID, "target", epoch.TargetIndex, "error", err)
		}
	}

	return OutcomeIndexed, nil
}

func (u *IndexDocumentUsecase) requestReindex(ctx context.Context, rt domain.RecordType, reason string) error {
	job, err := domain.NewJob(domain.JobReindex, domain.ReindexPayload{RecordType: rt.Name, Reason: reason})
	if err != nil {
		return err
	}
	if err := u.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue rebuild of %s: %w", rt.Name, err)
	}
	return nil
}
