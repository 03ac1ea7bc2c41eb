package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"search-sync/domain"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

type bleveIndex struct {
	index   bleve.Index
	mapping domain.Mapping
}

type bleveAlias struct {
	alias  bleve.IndexAlias
	target string
}

// BleveDriver is an embedded, memory-only engine for local runs and tests.
// Aliases are bleve.IndexAlias values swapped atomically on cutover.
type BleveDriver struct {
	mu      sync.RWMutex
	indexes map[string]*bleveIndex
	aliases map[string]*bleveAlias
}

func NewBleveDriver() *BleveDriver {
	return &BleveDriver{
		indexes: make(map[string]*bleveIndex),
		aliases: make(map[string]*bleveAlias),
	}
}

func (d *BleveDriver) IndexExists(ctx context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, physical := d.indexes[name]
	_, alias := d.aliases[name]
	return physical || alias, nil
}

func (d *BleveDriver) CreateIndex(ctx context.Context, name string, m domain.Mapping) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.indexes[name]; ok {
		return &DriverError{Op: "CreateIndex", Err: "index " + name + " already exists", Kind: domain.ErrorKindPermanent}
	}
	if _, ok := d.aliases[name]; ok {
		return &DriverError{Op: "CreateIndex", Err: name + " is an alias", Kind: domain.ErrorKindPermanent}
	}

	idx, err := bleve.NewMemOnly(bleveMappingFor(m))
	if err != nil {
		return &DriverError{Op: "CreateIndex", Err: err.Error(), Kind: domain.ErrorKindPermanent}
	}
	d.indexes[name] = &bleveIndex{index: idx, mapping: m}
	return nil
}

func (d *BleveDriver) DeleteIndex(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bi, ok := d.indexes[name]; ok {
		for logical, a := range d.aliases {
			if a.target == name {
				a.alias.Remove(bi.index)
				delete(d.aliases, logical)
			}
		}
		delete(d.indexes, name)
		if err := bi.index.Close(); err != nil {
			return &DriverError{Op: "DeleteIndex", Err: err.Error(), Kind: domain.ErrorKindTransient}
		}
		return nil
	}

	delete(d.aliases, name)
	return nil
}

func (d *BleveDriver) AssignAlias(ctx context.Context, physical, logical string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bi, ok := d.indexes[physical]
	if !ok {
		return &DriverError{Op: "AssignAlias", Err: "index " + physical + " does not exist", Kind: domain.ErrorKindNotFound}
	}
	if concrete, ok := d.indexes[logical]; ok {
		// Retired under the same lock, so reads never see the name unanswered.
		delete(d.indexes, logical)
		if err := concrete.index.Close(); err != nil {
			return &DriverError{Op: "AssignAlias", Err: err.Error(), Kind: domain.ErrorKindTransient}
		}
	}

	a, ok := d.aliases[logical]
	if !ok {
		d.aliases[logical] = &bleveAlias{alias: bleve.NewIndexAlias(bi.index), target: physical}
		return nil
	}

	var out []bleve.Index
	if old, ok := d.indexes[a.target]; ok {
		out = append(out, old.index)
	}
	a.alias.Swap([]bleve.Index{bi.index}, out)
	a.target = physical
	return nil
}

func (d *BleveDriver) ResolveAlias(ctx context.Context, logical string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if a, ok := d.aliases[logical]; ok {
		return a.target, nil
	}
	if _, ok := d.indexes[logical]; ok {
		return logical, nil
	}
	return "", nil
}

func (d *BleveDriver) BulkUpsert(ctx context.Context, index string, docs []SearchDocumentDriver) (BulkResponse, error) {
	if len(docs) == 0 {
		return BulkResponse{}, nil
	}

	bi, err := d.lookup("BulkUpsert", index)
	if err != nil {
		return BulkResponse{}, err
	}

	var resp BulkResponse
	batch := bi.index.NewBatch()
	for _, doc := range docs {
		if err := bi.mapping.Validate(doc.Body); err != nil {
			resp.Failed++
			resp.Items = append(resp.Items, BulkItemFailure{ID: doc.ID, Reason: err.Error(), Kind: domain.ErrorKindMapping})
			continue
		}
		if err := batch.Index(doc.ID, doc.Body); err != nil {
			resp.Failed++
			resp.Items = append(resp.Items, BulkItemFailure{ID: doc.ID, Reason: err.Error(), Kind: domain.ErrorKindPermanent})
			continue
		}
		resp.Succeeded++
	}

	if batch.Size() > 0 {
		if err := bi.index.Batch(batch); err != nil {
			return BulkResponse{}, transientError("BulkUpsert", err)
		}
	}
	return resp, nil
}

func (d *BleveDriver) Upsert(ctx context.Context, index string, doc SearchDocumentDriver) error {
	bi, err := d.lookup("Upsert", index)
	if err != nil {
		return err
	}
	if err := bi.mapping.Validate(doc.Body); err != nil {
		return &DriverError{Op: "Upsert", Err: err.Error(), Kind: domain.ErrorKindMapping}
	}
	if err := bi.index.Index(doc.ID, doc.Body); err != nil {
		return transientError("Upsert", err)
	}
	return nil
}

func (d *BleveDriver) Delete(ctx context.Context, index, id string) (bool, error) {
	bi, err := d.lookup("Delete", index)
	if err != nil {
		return false, err
	}

	existing, err := bi.index.Document(id)
	if err != nil {
		return false, transientError("Delete", err)
	}
	if existing == nil {
		return false, nil
	}
	if err := bi.index.Delete(id); err != nil {
		return false, transientError("Delete", err)
	}
	return true, nil
}

func (d *BleveDriver) Search(ctx context.Context, index string, req SearchRequestDriver) (SearchResponseDriver, error) {
	if len(req.Vector) > 0 {
		return SearchResponseDriver{}, unsupportedQuery("Search")
	}

	target, err := d.searchTarget(index)
	if err != nil {
		return SearchResponseDriver{}, err
	}

	size := req.Limit
	if size <= 0 {
		size = 20
	}
	searchRequest := bleve.NewSearchRequestOptions(bleveQueryFor(req), size, req.Offset, false)
	searchRequest.Fields = []string{"*"}

	result, err := target.SearchInContext(ctx, searchRequest)
	if err != nil {
		return SearchResponseDriver{}, transientError("Search", err)
	}

	resp := SearchResponseDriver{Total: int64(result.Total)}
	for _, hit := range result.Hits {
		resp.Hits = append(resp.Hits, SearchHitDriver{ID: hit.ID, Score: hit.Score, Source: hit.Fields})
	}
	return resp, nil
}

// lookup resolves an alias or physical name to the physical index.
func (d *BleveDriver) lookup(op, name string) (*bleveIndex, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if a, ok := d.aliases[name]; ok {
		name = a.target
	}
	bi, ok := d.indexes[name]
	if !ok {
		return nil, &DriverError{Op: op, Err: "index " + name + " does not exist", Kind: domain.ErrorKindNotFound}
	}
	return bi, nil
}

// searchTarget returns the alias when name is one, so reads follow cutovers.
func (d *BleveDriver) searchTarget(name string) (bleve.Index, error) {
	d.mu.RLock()
	a, ok := d.aliases[name]
	d.mu.RUnlock()
	if ok {
		return a.alias, nil
	}

	bi, err := d.lookup("Search", name)
	if err != nil {
		return nil, err
	}
	return bi.index, nil
}

// Close releases every open index.
func (d *BleveDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, bi := range d.indexes {
		if err := bi.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	d.indexes = make(map[string]*bleveIndex)
	d.aliases = make(map[string]*bleveAlias)
	return firstErr
}

func bleveQueryFor(req SearchRequestDriver) query.Query {
	var text query.Query
	if req.Text != "" {
		text = bleve.NewMatchQuery(req.Text)
	} else {
		text = bleve.NewMatchAllQuery()
	}
	if len(req.Filters) == 0 {
		return text
	}

	fields := make([]string, 0, len(req.Filters))
	for f := range req.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	conjuncts := []query.Query{text}
	for _, f := range fields {
		term := bleve.NewTermQuery(req.Filters[f])
		term.SetField(f)
		conjuncts = append(conjuncts, term)
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// bleveMappingFor builds a static document mapping. Vector fields are not
// indexed by the embedded engine.
func bleveMappingFor(m domain.Mapping) mapping.IndexMapping {
	doc := bleve.NewDocumentStaticMapping()

	idField := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("id", idField)
	doc.AddFieldMappingsAt("updated_at", bleve.NewDateTimeFieldMapping())

	for _, f := range m.Fields {
		var fm *mapping.FieldMapping
		switch f.Type {
		case domain.FieldKeyword:
			fm = bleve.NewKeywordFieldMapping()
		case domain.FieldInteger, domain.FieldFloat:
			fm = bleve.NewNumericFieldMapping()
		case domain.FieldBoolean:
			fm = bleve.NewBooleanFieldMapping()
		case domain.FieldDate:
			fm = bleve.NewDateTimeFieldMapping()
		case domain.FieldVector:
			continue
		default:
			fm = bleve.NewTextFieldMapping()
		}
		fm.IncludeInAll = f.Searchable
		doc.AddFieldMappingsAt(f.Name, fm)
	}

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = "standard"
	return im
}
