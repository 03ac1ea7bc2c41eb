package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"search-sync/domain"

	"github.com/meilisearch/meilisearch-go"
)

const meiliTaskInterval = 50 * time.Millisecond

// meiliMappingCodes are task error codes meaning a document does not fit the index.
var meiliMappingCodes = map[string]bool{
	"invalid_document_fields":              true,
	"invalid_document_geo_field":           true,
	"invalid_vector_dimensions":            true,
	"invalid_vectors_type":                 true,
	"invalid_document_id":                  true,
	"missing_document_id":                  true,
	"index_primary_key_no_candidate_found": true,
}

// MeilisearchDriver talks to Meilisearch. Meilisearch has no aliases, so a
// cutover swaps the temp index into the logical name and drops the temp uid.
type MeilisearchDriver struct {
	client meilisearch.ServiceManager
}

func NewMeilisearchDriver(client meilisearch.ServiceManager) *MeilisearchDriver {
	return &MeilisearchDriver{client: client}
}

func (d *MeilisearchDriver) IndexExists(ctx context.Context, name string) (bool, error) {
	_, err := d.client.GetIndexWithContext(ctx, name)
	if err == nil {
		return true, nil
	}
	if meiliStatus(err) == 404 {
		return false, nil
	}
	return false, d.classify("IndexExists", err)
}

func (d *MeilisearchDriver) CreateIndex(ctx context.Context, name string, mapping domain.Mapping) error {
	task, err := d.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
		Uid:        name,
		PrimaryKey: "id",
	})
	if err != nil {
		return d.classify("CreateIndex", err)
	}
	if err := d.wait(ctx, "CreateIndex", task.TaskUID); err != nil {
		return err
	}

	index := d.client.Index(name)
	searchable := mapping.SearchableFields()
	if len(searchable) > 0 {
		task, err = index.UpdateSearchableAttributes(&searchable)
		if err != nil {
			return d.classify("CreateIndex", err)
		}
		if err := d.wait(ctx, "CreateIndex", task.TaskUID); err != nil {
			return err
		}
	}

	filterable := mapping.FilterableFields()
	if len(filterable) > 0 {
		filterableAttrs := make([]interface{}, len(filterable))
		for i, f := range filterable {
			filterableAttrs[i] = f
		}
		task, err = index.UpdateFilterableAttributes(&filterableAttrs)
		if err != nil {
			return d.classify("CreateIndex", err)
		}
		if err := d.wait(ctx, "CreateIndex", task.TaskUID); err != nil {
			return err
		}
	}

	sortable := append(mapping.SortableFields(), "updated_at")
	task, err = index.UpdateSortableAttributes(&sortable)
	if err != nil {
		return d.classify("CreateIndex", err)
	}
	return d.wait(ctx, "CreateIndex", task.TaskUID)
}

func (d *MeilisearchDriver) DeleteIndex(ctx context.Context, name string) error {
	task, err := d.client.DeleteIndexWithContext(ctx, name)
	if err != nil {
		if meiliStatus(err) == 404 {
			return nil
		}
		return d.classify("DeleteIndex", err)
	}
	err = d.wait(ctx, "DeleteIndex", task.TaskUID)
	var de *DriverError
	if errors.As(err, &de) && de.Kind == domain.ErrorKindNotFound {
		return nil
	}
	return err
}

// AssignAlias swaps physical into logical, creating an empty logical index
// first when needed, then deletes the physical uid which now holds the
// previous logical contents.
func (d *MeilisearchDriver) AssignAlias(ctx context.Context, physical, logical string) error {
	exists, err := d.IndexExists(ctx, logical)
	if err != nil {
		return err
	}
	if !exists {
		task, err := d.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{Uid: logical, PrimaryKey: "id"})
		if err != nil {
			return d.classify("AssignAlias", err)
		}
		if err := d.wait(ctx, "AssignAlias", task.TaskUID); err != nil {
			return err
		}
	}

	task, err := d.client.SwapIndexesWithContext(ctx, []*meilisearch.SwapIndexesParams{
		{Indexes: []string{logical, physical}},
	})
	if err != nil {
		return d.classify("AssignAlias", err)
	}
	if err := d.wait(ctx, "AssignAlias", task.TaskUID); err != nil {
		return err
	}

	return d.DeleteIndex(ctx, physical)
}

func (d *MeilisearchDriver) ResolveAlias(ctx context.Context, logical string) (string, error) {
	exists, err := d.IndexExists(ctx, logical)
	if err != nil || !exists {
		return "", err
	}
	return logical, nil
}

func (d *MeilisearchDriver) BulkUpsert(ctx context.Context, index string, docs []SearchDocumentDriver) (BulkResponse, error) {
	if len(docs) == 0 {
		return BulkResponse{}, nil
	}

	bodies := make([]map[string]any, len(docs))
	for i, doc := range docs {
		bodies[i] = doc.Body
	}

	task, err := d.client.Index(index).AddDocuments(bodies, nil)
	if err != nil {
		return BulkResponse{}, d.classify("BulkUpsert", err)
	}

	// A Meilisearch task is atomic: either every document lands or none does.
	err = d.wait(ctx, "BulkUpsert", task.TaskUID)
	var de *DriverError
	if errors.As(err, &de) && de.Kind == domain.ErrorKindMapping {
		resp := BulkResponse{Failed: len(docs)}
		for _, doc := range docs {
			resp.Items = append(resp.Items, BulkItemFailure{ID: doc.ID, Reason: de.Err, Kind: domain.ErrorKindMapping})
		}
		return resp, nil
	}
	if err != nil {
		return BulkResponse{}, err
	}

	return BulkResponse{Succeeded: len(docs)}, nil
}

func (d *MeilisearchDriver) Upsert(ctx context.Context, index string, doc SearchDocumentDriver) error {
	task, err := d.client.Index(index).AddDocuments([]map[string]any{doc.Body}, nil)
	if err != nil {
		return d.classify("Upsert", err)
	}
	return d.wait(ctx, "Upsert", task.TaskUID)
}

func (d *MeilisearchDriver) Delete(ctx context.Context, index, id string) (bool, error) {
	idx := d.client.Index(index)

	var existing map[string]any
	err := idx.GetDocument(id, &meilisearch.DocumentQuery{Fields: []string{"id"}}, &existing)
	if err != nil {
		if meiliStatus(err) == 404 {
			return false, nil
		}
		return false, d.classify("Delete", err)
	}

	task, err := idx.DeleteDocument(id, nil)
	if err != nil {
		return false, d.classify("Delete", err)
	}
	if err := d.wait(ctx, "Delete", task.TaskUID); err != nil {
		return false, err
	}
	return true, nil
}

type meiliSearchRaw struct {
	Hits               []map[string]any `json:"hits"`
	EstimatedTotalHits int64            `json:"estimatedTotalHits"`
}

func (d *MeilisearchDriver) Search(ctx context.Context, index string, req SearchRequestDriver) (SearchResponseDriver, error) {
	if len(req.Vector) > 0 {
		return SearchResponseDriver{}, unsupportedQuery("Search")
	}

	searchRequest := &meilisearch.SearchRequest{
		Query:            req.Text,
		Limit:            int64(req.Limit),
		Offset:           int64(req.Offset),
		ShowRankingScore: true,
	}
	if filter := buildMeiliFilter(req.Filters); filter != "" {
		searchRequest.Filter = filter
	}

	raw, err := d.client.Index(index).SearchRaw(req.Text, searchRequest)
	if err != nil {
		return SearchResponseDriver{}, d.classify("Search", err)
	}

	var decoded meiliSearchRaw
	if err := json.Unmarshal(*raw, &decoded); err != nil {
		return SearchResponseDriver{}, &DriverError{Op: "Search", Err: "decode response: " + err.Error(), Kind: domain.ErrorKindPermanent}
	}

	resp := SearchResponseDriver{Total: decoded.EstimatedTotalHits}
	for _, hit := range decoded.Hits {
		h := SearchHitDriver{ID: getString(hit, "id"), Source: hit}
		if score, ok := hit["_rankingScore"].(float64); ok {
			h.Score = score
		}
		resp.Hits = append(resp.Hits, h)
	}
	return resp, nil
}

// wait blocks until the task settles and turns a failed task into a DriverError.
func (d *MeilisearchDriver) wait(ctx context.Context, op string, taskUID int64) error {
	task, err := d.client.WaitForTaskWithContext(ctx, taskUID, meiliTaskInterval)
	if err != nil {
		return d.classify(op, err)
	}
	if task.Status != meilisearch.TaskStatusFailed {
		return nil
	}

	code := task.Error.Code
	kind := domain.ErrorKindPermanent
	switch {
	case meiliMappingCodes[code]:
		kind = domain.ErrorKindMapping
	case code == "index_not_found" || code == "document_not_found":
		kind = domain.ErrorKindNotFound
	case code == "internal" || code == "too_many_open_files" || code == "no_space_left_on_device":
		kind = domain.ErrorKindTransient
	}
	return &DriverError{Op: op, Err: fmt.Sprintf("task %d failed: %s (%s)", taskUID, task.Error.Message, code), Kind: kind}
}

func (d *MeilisearchDriver) classify(op string, err error) *DriverError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transientError(op, err)
	}
	status := meiliStatus(err)
	if status == 0 {
		return transientError(op, err)
	}
	return &DriverError{Op: op, Err: err.Error(), Kind: kindForStatus(status)}
}

func meiliStatus(err error) int {
	var me *meilisearch.Error
	if errors.As(err, &me) {
		return me.StatusCode
	}
	return 0
}

// escapeMeilisearchValue escapes special characters in Meilisearch filter values.
func escapeMeilisearchValue(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

// buildMeiliFilter joins equality filters with AND, in field order.
func buildMeiliFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}

	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s = \"%s\"", f, escapeMeilisearchValue(filters[f])))
	}
	return strings.Join(parts, " AND ")
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
