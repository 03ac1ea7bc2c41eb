package usecase

import (
	"context"
	"fmt"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils/otel"
)

// DeleteDocumentUsecase removes a document from its live index and, while a
// rebuild has provisioned a temp index, from that index too.
type DeleteDocumentUsecase struct {
	backend port.SearchBackend
	epochs  port.EpochStore
}

func NewDeleteDocumentUsecase(backend port.SearchBackend, epochs port.EpochStore) *DeleteDocumentUsecase {
	return &DeleteDocumentUsecase{
		backend: backend,
		epochs:  epochs,
	}
}

// Delete reports whether the document existed in the live index. A missing
// document or index is not an error.
func (u *DeleteDocumentUsecase) Delete(ctx context.Context, index, id string) (bool, error) {
	ctx = logger.WithIndex(ctx, index)

	found, err := u.backend.Delete(ctx, index, id)
	if err != nil && !domain.IsNotFound(err) {
		otel.Metrics.Error(ctx, "delete")
		return false, fmt.Errorf("delete %s from %s: %w", id, index, err)
	}

	epoch, err := u.epochs.Get(ctx, index)
	if err != nil {
		return found, err
	}
	if epoch.Provisioned() {
		if _, err := u.backend.Delete(ctx, epoch.TargetIndex, id); err != nil && !domain.IsNotFound(err) {
			otel.Metrics.Error(ctx, "delete")
			return found, fmt.Errorf("delete %s from rebuild target %s: %w", id, epoch.TargetIndex, err)
		}
	}

	if found {
		otel.Metrics.Deleted(ctx, index)
	}
	logger.FromContext(ctx).Debug("document deleted", "document_id", id, "found", found)
	return found, nil
}

// Handle runs a delete_document job.
func (u *DeleteDocumentUsecase) Handle(ctx context.Context, job domain.Job) error {
	var p domain.DeleteDocumentPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.Index == "" || p.DocumentID == "" {
		return domain.Permanent(fmt.Errorf("delete_document job %s needs an index and a document id", job.ID))
	}

	_, err := u.Delete(ctx, p.Index, p.DocumentID)
	return err
}
