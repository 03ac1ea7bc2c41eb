package port

import (
	"context"

	"search-sync/domain"
)

// SearchBackend is the uniform surface over a pluggable search engine.
// Errors are *domain.SearchEngineError carrying a classification.
type SearchBackend interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping domain.Mapping) error
	DeleteIndex(ctx context.Context, name string) error
	// AssignAlias makes reads under logical resolve to physical.
	AssignAlias(ctx context.Context, physical, logical string) error
	// ResolveAlias returns the physical index answering for logical, or "" if none.
	ResolveAlias(ctx context.Context, logical string) (string, error)
	BulkUpsert(ctx context.Context, index string, docs []domain.Document) (domain.BulkResult, error)
	Upsert(ctx context.Context, index string, doc domain.Document) error
	// Delete removes a document and reports whether it existed.
	Delete(ctx context.Context, index, id string) (bool, error)
	Search(ctx context.Context, index string, query domain.Query) (domain.SearchResult, error)
}
