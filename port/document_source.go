package port

import (
	"context"
	"time"

	"search-sync/domain"
)

// DocumentSource exposes primary records to the indexers.
type DocumentSource interface {
	Mapping(recordType string) (domain.Mapping, error)
	// Find returns domain.ErrRecordNotFound for a missing record.
	Find(ctx context.Context, recordType, id string) (domain.Searchable, error)
	// ScanPages walks records last modified before cutoff in (updated_at, id)
	// order and calls fn with the bounds of each page of at most pageSize records.
	ScanPages(ctx context.Context, recordType string, cutoff time.Time, pageSize int, fn func(domain.PageRef) error) error
	FetchPage(ctx context.Context, recordType string, cutoff time.Time, page domain.PageRef) ([]domain.Searchable, error)
}
