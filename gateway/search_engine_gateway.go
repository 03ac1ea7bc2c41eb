package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"search-sync/domain"
	"search-sync/driver"
	"search-sync/utils/otel"
)

// SearchDriver is implemented by each engine driver.
type SearchDriver interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping domain.Mapping) error
	DeleteIndex(ctx context.Context, name string) error
	AssignAlias(ctx context.Context, physical, logical string) error
	ResolveAlias(ctx context.Context, logical string) (string, error)
	BulkUpsert(ctx context.Context, index string, docs []driver.SearchDocumentDriver) (driver.BulkResponse, error)
	Upsert(ctx context.Context, index string, doc driver.SearchDocumentDriver) error
	Delete(ctx context.Context, index, id string) (bool, error)
	Search(ctx context.Context, index string, req driver.SearchRequestDriver) (driver.SearchResponseDriver, error)
}

// DefaultBulkTimeout bounds bulk writes and index administration unless
// WithBulkTimeout says otherwise.
const DefaultBulkTimeout = 5 * time.Minute

// SearchEngineGateway adapts a SearchDriver to port.SearchBackend: it bounds
// every call with a timeout and turns driver errors into domain errors.
// Point reads and writes use timeout; bulk writes and index creation,
// deletion and alias changes use bulkTimeout.
type SearchEngineGateway struct {
	driver      SearchDriver
	timeout     time.Duration
	bulkTimeout time.Duration
}

func NewSearchEngineGateway(driver SearchDriver, timeout time.Duration) *SearchEngineGateway {
	return &SearchEngineGateway{
		driver:      driver,
		timeout:     timeout,
		bulkTimeout: DefaultBulkTimeout,
	}
}

// WithBulkTimeout sets the bound for bulk and admin calls. Zero leaves them
// bounded only by the caller's context.
func (g *SearchEngineGateway) WithBulkTimeout(d time.Duration) *SearchEngineGateway {
	g.bulkTimeout = d
	return g
}

func (g *SearchEngineGateway) IndexExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	exists, err := g.driver.IndexExists(ctx, name)
	if err != nil {
		return false, toEngineError("IndexExists", err)
	}
	return exists, nil
}

func (g *SearchEngineGateway) CreateIndex(ctx context.Context, name string, mapping domain.Mapping) error {
	ctx, cancel := withTimeout(ctx, g.bulkTimeout)
	defer cancel()

	if err := g.driver.CreateIndex(ctx, name, mapping); err != nil {
		return toEngineError("CreateIndex", err)
	}
	return nil
}

func (g *SearchEngineGateway) DeleteIndex(ctx context.Context, name string) error {
	ctx, cancel := withTimeout(ctx, g.bulkTimeout)
	defer cancel()

	if err := g.driver.DeleteIndex(ctx, name); err != nil {
		return toEngineError("DeleteIndex", err)
	}
	return nil
}

func (g *SearchEngineGateway) AssignAlias(ctx context.Context, physical, logical string) error {
	ctx, cancel := withTimeout(ctx, g.bulkTimeout)
	defer cancel()

	if err := g.driver.AssignAlias(ctx, physical, logical); err != nil {
		return toEngineError("AssignAlias", err)
	}
	return nil
}

func (g *SearchEngineGateway) ResolveAlias(ctx context.Context, logical string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	physical, err := g.driver.ResolveAlias(ctx, logical)
	if err != nil {
		return "", toEngineError("ResolveAlias", err)
	}
	return physical, nil
}

func (g *SearchEngineGateway) BulkUpsert(ctx context.Context, index string, docs []domain.Document) (domain.BulkResult, error) {
	if len(docs) == 0 {
		return domain.BulkResult{}, nil
	}

	ctx, cancel := withTimeout(ctx, g.bulkTimeout)
	defer cancel()

	driverDocs := make([]driver.SearchDocumentDriver, len(docs))
	for i, doc := range docs {
		driverDocs[i] = driver.SearchDocumentDriver{ID: doc.ID, Body: doc.Body()}
	}

	start := time.Now()
	resp, err := g.driver.BulkUpsert(ctx, index, driverDocs)
	otel.Metrics.ObserveBatch(ctx, index, time.Since(start))
	if err != nil {
		return domain.BulkResult{}, toEngineError("BulkUpsert", err)
	}

	result := domain.BulkResult{
		Succeeded: resp.Succeeded,
		Failed:    resp.Failed,
		Calls:     1,
	}
	for _, item := range resp.Items {
		result.Errors = append(result.Errors, domain.BulkItemError{ID: item.ID, Reason: item.Reason, Kind: item.Kind})
	}
	return result, nil
}

func (g *SearchEngineGateway) Upsert(ctx context.Context, index string, doc domain.Document) error {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.driver.Upsert(ctx, index, driver.SearchDocumentDriver{ID: doc.ID, Body: doc.Body()}); err != nil {
		return toEngineError("Upsert", err)
	}
	return nil
}

func (g *SearchEngineGateway) Delete(ctx context.Context, index, id string) (bool, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	found, err := g.driver.Delete(ctx, index, id)
	if err != nil {
		return false, toEngineError("Delete", err)
	}
	return found, nil
}

func (g *SearchEngineGateway) Search(ctx context.Context, index string, query domain.Query) (domain.SearchResult, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.driver.Search(ctx, index, driver.SearchRequestDriver{
		Text:        query.Text,
		Vector:      query.Vector,
		VectorField: query.VectorField,
		Filters:     query.Filters,
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
	otel.Metrics.ObserveSearch(ctx, index, time.Since(start))
	if err != nil {
		return domain.SearchResult{}, toEngineError("Search", err)
	}

	result := domain.SearchResult{Total: resp.Total, Hits: make([]domain.SearchHit, 0, len(resp.Hits))}
	for _, h := range resp.Hits {
		result.Hits = append(result.Hits, domain.SearchHit{ID: h.ID, Score: h.Score, Fields: h.Source})
	}
	return result, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func toEngineError(op string, err error) error {
	if errors.Is(err, domain.ErrUnsupportedQuery) {
		return domain.Permanent(fmt.Errorf("%s: %w", op, domain.ErrUnsupportedQuery))
	}
	var de *driver.DriverError
	if errors.As(err, &de) {
		return &domain.SearchEngineError{Op: op, Err: de.Error(), Kind: de.Kind}
	}
	return &domain.SearchEngineError{Op: op, Err: err.Error(), Kind: domain.ErrorKindTransient}
}
