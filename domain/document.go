package domain

import "time"

// Document is the searchable projection of one primary record.
type Document struct {
	ID         string         `json:"id"`
	Index      string         `json:"-"`
	Connection string         `json:"-"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Fields     map[string]any `json:"-"`
}

// Body returns the flat field map sent to the backend, with id and
// updated_at always present.
func (d Document) Body() map[string]any {
	body := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		body[k] = v
	}
	body["id"] = d.ID
	if !d.UpdatedAt.IsZero() {
		body["updated_at"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return body
}

// Query is a text and/or vector query against one index.
type Query struct {
	Text        string
	Vector      []float32
	VectorField string
	Filters     map[string]string
	Limit       int
	Offset      int
}

// SearchHit is one matched document.
type SearchHit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// SearchResult holds the hits of a query and the backend's total estimate.
type SearchResult struct {
	Hits  []SearchHit
	Total int64
}
