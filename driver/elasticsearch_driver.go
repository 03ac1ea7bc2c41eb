package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"search-sync/domain"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// esMappingErrorTypes are error types ES returns when a document does not fit
// the index mapping.
var esMappingErrorTypes = map[string]bool{
	"mapper_parsing_exception":         true,
	"strict_dynamic_mapping_exception": true,
	"illegal_argument_exception":       true,
	"document_parsing_exception":       true,
	"mapper_exception":                 true,
}

type esErrorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type esBulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ElasticsearchDriver talks to Elasticsearch through esapi requests.
// Logical names are aliases over timestamped physical indexes.
type ElasticsearchDriver struct {
	transport esapi.Transport
	refresh   string
}

// NewElasticsearchDriver takes an *elasticsearch.Client or any esapi.Transport.
// refresh is passed to write requests ("", "true", "false" or "wait_for").
func NewElasticsearchDriver(transport esapi.Transport, refresh string) *ElasticsearchDriver {
	return &ElasticsearchDriver{transport: transport, refresh: refresh}
}

func (d *ElasticsearchDriver) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, d.transport)
	if err != nil {
		return false, transientError("IndexExists", err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &DriverError{Op: "IndexExists", Err: res.Status(), Kind: kindForStatus(res.StatusCode)}
	}
}

func (d *ElasticsearchDriver) CreateIndex(ctx context.Context, name string, mapping domain.Mapping) error {
	body, err := json.Marshal(map[string]any{"mappings": esMappingFor(mapping)})
	if err != nil {
		return &DriverError{Op: "CreateIndex", Err: err.Error(), Kind: domain.ErrorKindPermanent}
	}

	res, err := esapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(body)}.Do(ctx, d.transport)
	if err != nil {
		return transientError("CreateIndex", err)
	}
	defer drain(res)

	if res.IsError() {
		return esError("CreateIndex", res)
	}
	return nil
}

func (d *ElasticsearchDriver) DeleteIndex(ctx context.Context, name string) error {
	res, err := esapi.IndicesDeleteRequest{Index: []string{name}}.Do(ctx, d.transport)
	if err != nil {
		return transientError("DeleteIndex", err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return esError("DeleteIndex", res)
	}
	return nil
}

// AssignAlias points logical at physical, removing logical from any other
// index in the same atomic _aliases call.
// AssignAlias points logical at physical in one _aliases request. A concrete
// index holding the logical name, for example one auto-created by a write,
// is removed in that same request so the name is never unanswered.
func (d *ElasticsearchDriver) AssignAlias(ctx context.Context, physical, logical string) error {
	current, err := d.ResolveAlias(ctx, logical)
	if err != nil {
		return err
	}
	retire := map[string]any{"remove": map[string]any{"index": "*", "alias": logical, "must_exist": false}}
	if current == logical {
		retire = map[string]any{"remove_index": map[string]any{"index": logical}}
	}
	actions := map[string]any{
		"actions": []map[string]any{
			retire,
			{"add": map[string]any{"index": physical, "alias": logical}},
		},
	}
	body, err := json.Marshal(actions)
	if err != nil {
		return &DriverError{Op: "AssignAlias", Err: err.Error(), Kind: domain.ErrorKindPermanent}
	}

	res, err := esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(body)}.Do(ctx, d.transport)
	if err != nil {
		return transientError("AssignAlias", err)
	}
	defer drain(res)

	if res.IsError() {
		return esError("AssignAlias", res)
	}
	return nil
}

// ResolveAlias returns the physical index behind logical, logical itself when it
// is a concrete index, or "" when nothing answers for it.
func (d *ElasticsearchDriver) ResolveAlias(ctx context.Context, logical string) (string, error) {
	res, err := esapi.IndicesGetAliasRequest{Name: []string{logical}}.Do(ctx, d.transport)
	if err != nil {
		return "", transientError("ResolveAlias", err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound {
		exists, err := d.IndexExists(ctx, logical)
		if err != nil || !exists {
			return "", err
		}
		return logical, nil
	}
	if res.IsError() {
		return "", esError("ResolveAlias", res)
	}

	var indices map[string]any
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return "", &DriverError{Op: "ResolveAlias", Err: "decode response: " + err.Error(), Kind: domain.ErrorKindPermanent}
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	if len(names) > 1 {
		return "", &DriverError{Op: "ResolveAlias", Err: fmt.Sprintf("alias %s points at %d indexes", logical, len(names)), Kind: domain.ErrorKindPermanent}
	}
	return names[0], nil
}

func (d *ElasticsearchDriver) BulkUpsert(ctx context.Context, index string, docs []SearchDocumentDriver) (BulkResponse, error) {
	if len(docs) == 0 {
		return BulkResponse{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": index, "_id": doc.ID}}
		if err := enc.Encode(action); err != nil {
			return BulkResponse{}, &DriverError{Op: "BulkUpsert", Err: err.Error(), Kind: domain.ErrorKindPermanent}
		}
		if err := enc.Encode(doc.Body); err != nil {
			return BulkResponse{}, &DriverError{Op: "BulkUpsert", Err: err.Error(), Kind: domain.ErrorKindPermanent}
		}
	}

	res, err := esapi.BulkRequest{Index: index, Body: &buf, Refresh: d.refresh}.Do(ctx, d.transport)
	if err != nil {
		return BulkResponse{}, transientError("BulkUpsert", err)
	}
	defer drain(res)

	if res.IsError() {
		return BulkResponse{}, esError("BulkUpsert", res)
	}

	var decoded esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return BulkResponse{}, transientError("BulkUpsert", fmt.Errorf("decode response: %w", err))
	}

	var out BulkResponse
	for _, item := range decoded.Items {
		for _, result := range item {
			if result.Error == nil {
				out.Succeeded++
				continue
			}
			kind := kindForStatus(result.Status)
			if esMappingErrorTypes[result.Error.Type] {
				kind = domain.ErrorKindMapping
			}
			out.Failed++
			out.Items = append(out.Items, BulkItemFailure{
				ID:     result.ID,
				Reason: result.Error.Type + ": " + result.Error.Reason,
				Kind:   kind,
			})
		}
	}
	return out, nil
}

func (d *ElasticsearchDriver) Upsert(ctx context.Context, index string, doc SearchDocumentDriver) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return &DriverError{Op: "Upsert", Err: err.Error(), Kind: domain.ErrorKindPermanent}
	}

	res, err := esapi.IndexRequest{
		Index:      index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    d.refresh,
	}.Do(ctx, d.transport)
	if err != nil {
		return transientError("Upsert", err)
	}
	defer drain(res)

	if res.IsError() {
		return esError("Upsert", res)
	}
	return nil
}

func (d *ElasticsearchDriver) Delete(ctx context.Context, index, id string) (bool, error) {
	res, err := esapi.DeleteRequest{Index: index, DocumentID: id, Refresh: d.refresh}.Do(ctx, d.transport)
	if err != nil {
		return false, transientError("Delete", err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, esError("Delete", res)
	}
	return true, nil
}

func (d *ElasticsearchDriver) Search(ctx context.Context, index string, req SearchRequestDriver) (SearchResponseDriver, error) {
	if len(req.Vector) > 0 && req.VectorField == "" {
		return SearchResponseDriver{}, &DriverError{Op: "Search", Err: "vector query needs a vector field", Kind: domain.ErrorKindPermanent}
	}

	body, err := json.Marshal(esQueryFor(req))
	if err != nil {
		return SearchResponseDriver{}, &DriverError{Op: "Search", Err: err.Error(), Kind: domain.ErrorKindPermanent}
	}

	trackTotal := true
	res, err := esapi.SearchRequest{
		Index:          []string{index},
		Body:           bytes.NewReader(body),
		TrackTotalHits: trackTotal,
	}.Do(ctx, d.transport)
	if err != nil {
		return SearchResponseDriver{}, transientError("Search", err)
	}
	defer drain(res)

	if res.IsError() {
		return SearchResponseDriver{}, esError("Search", res)
	}

	var decoded esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return SearchResponseDriver{}, &DriverError{Op: "Search", Err: "decode response: " + err.Error(), Kind: domain.ErrorKindPermanent}
	}

	out := SearchResponseDriver{Total: decoded.Hits.Total.Value}
	for _, h := range decoded.Hits.Hits {
		out.Hits = append(out.Hits, SearchHitDriver{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return out, nil
}

func esQueryFor(req SearchRequestDriver) map[string]any {
	size := req.Limit
	if size <= 0 {
		size = 20
	}

	filters := make([]map[string]any, 0, len(req.Filters))
	fields := make([]string, 0, len(req.Filters))
	for f := range req.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		filters = append(filters, map[string]any{"term": map[string]any{f: req.Filters[f]}})
	}

	query := map[string]any{
		"from": req.Offset,
		"size": size,
	}

	if len(req.Vector) > 0 {
		knn := map[string]any{
			"field":          req.VectorField,
			"query_vector":   req.Vector,
			"k":              size + req.Offset,
			"num_candidates": (size + req.Offset) * 10,
		}
		if len(filters) > 0 {
			knn["filter"] = filters
		}
		query["knn"] = knn
		return query
	}

	boolQuery := map[string]any{}
	if req.Text != "" {
		boolQuery["must"] = []map[string]any{{
			"multi_match": map[string]any{"query": req.Text, "lenient": true},
		}}
	} else {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	query["query"] = map[string]any{"bool": boolQuery}
	return query
}

// esMappingFor renders a strict ES mapping; id and updated_at are always declared.
func esMappingFor(m domain.Mapping) map[string]any {
	props := map[string]any{
		"id":         map[string]any{"type": "keyword"},
		"updated_at": map[string]any{"type": "date"},
	}
	for _, f := range m.Fields {
		props[f.Name] = esFieldFor(f)
	}
	return map[string]any{"dynamic": "strict", "properties": props}
}

func esFieldFor(f domain.FieldMapping) map[string]any {
	switch f.Type {
	case domain.FieldKeyword:
		return map[string]any{"type": "keyword"}
	case domain.FieldInteger:
		return map[string]any{"type": "long"}
	case domain.FieldFloat:
		return map[string]any{"type": "double"}
	case domain.FieldBoolean:
		return map[string]any{"type": "boolean"}
	case domain.FieldDate:
		return map[string]any{"type": "date"}
	case domain.FieldVector:
		return map[string]any{"type": "dense_vector", "dims": f.Dimensions, "index": true, "similarity": "cosine"}
	default:
		return map[string]any{"type": "text"}
	}
}

func esError(op string, res *esapi.Response) *DriverError {
	var body esErrorBody
	raw, _ := io.ReadAll(res.Body)
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Type == "" {
		return &DriverError{Op: op, Err: fmt.Sprintf("[%s] %s", res.Status(), raw), Kind: kindForStatus(res.StatusCode)}
	}

	kind := kindForStatus(res.StatusCode)
	if esMappingErrorTypes[body.Error.Type] {
		kind = domain.ErrorKindMapping
	}
	return &DriverError{Op: op, Err: body.Error.Type + ": " + body.Error.Reason, Kind: kind}
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
