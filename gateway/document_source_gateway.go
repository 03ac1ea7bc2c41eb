package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"search-sync/domain"
)

// RecordSource loads one record type from its primary store.
type RecordSource interface {
	// Find returns domain.ErrRecordNotFound for a missing record.
	Find(ctx context.Context, id string) (domain.Searchable, error)
	// PageStarts returns the first key of every page of pageSize records
	// last modified before cutoff.
	PageStarts(ctx context.Context, cutoff time.Time, pageSize int) ([]domain.Cursor, error)
	FetchPage(ctx context.Context, cutoff time.Time, start domain.Cursor, limit int) ([]domain.Searchable, error)
}

// DocumentSourceGateway implements port.DocumentSource by routing each
// registered record type to its RecordSource.
type DocumentSourceGateway struct {
	registry *domain.Registry

	mu      sync.RWMutex
	sources map[string]RecordSource
}

func NewDocumentSourceGateway(registry *domain.Registry) *DocumentSourceGateway {
	return &DocumentSourceGateway{
		registry: registry,
		sources:  make(map[string]RecordSource),
	}
}

// Register binds recordType to src. The type must already be in the registry.
func (g *DocumentSourceGateway) Register(recordType string, src RecordSource) error {
	if _, err := g.registry.Lookup(recordType); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sources[recordType] = src
	return nil
}

func (g *DocumentSourceGateway) Mapping(recordType string) (domain.Mapping, error) {
	rt, err := g.registry.Lookup(recordType)
	if err != nil {
		return domain.Mapping{}, err
	}
	return rt.Mapping, nil
}

func (g *DocumentSourceGateway) Find(ctx context.Context, recordType, id string) (domain.Searchable, error) {
	src, err := g.source(recordType)
	if err != nil {
		return nil, err
	}

	record, err := src.Find(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &domain.RepositoryError{Op: "Find", Err: fmt.Sprintf("%s %s: %v", recordType, id, err)}
	}
	return record, nil
}

func (g *DocumentSourceGateway) ScanPages(ctx context.Context, recordType string, cutoff time.Time, pageSize int, fn func(domain.PageRef) error) error {
	src, err := g.source(recordType)
	if err != nil {
		return err
	}

	starts, err := src.PageStarts(ctx, cutoff, pageSize)
	if err != nil {
		return &domain.RepositoryError{Op: "ScanPages", Err: err.Error()}
	}

	for _, start := range starts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(domain.PageRef{Start: start, Limit: pageSize}); err != nil {
			return err
		}
	}
	return nil
}

func (g *DocumentSourceGateway) FetchPage(ctx context.Context, recordType string, cutoff time.Time, page domain.PageRef) ([]domain.Searchable, error) {
	src, err := g.source(recordType)
	if err != nil {
		return nil, err
	}

	records, err := src.FetchPage(ctx, cutoff, page.Start, page.Limit)
	if err != nil {
		return nil, &domain.RepositoryError{Op: "FetchPage", Err: err.Error()}
	}
	return records, nil
}

func (g *DocumentSourceGateway) source(recordType string) (RecordSource, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	src, ok := g.sources[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no source", domain.ErrUnknownRecordType, recordType)
	}
	return src, nil
}
