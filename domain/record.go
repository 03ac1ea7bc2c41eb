package domain

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Searchable is implemented by record types that project into a search index.
type Searchable interface {
	SearchableID() string
	LastModified() time.Time
	ShouldBeSearchable() bool
	ToDocument() Document
}

// RecordType describes where and how a kind of record is indexed.
type RecordType struct {
	Name       string
	Index      string
	Connection string
	Mapping    Mapping
}

// Document projects record into rt's index, stamped with the index and
// connection it belongs to.
func (rt RecordType) Document(record Searchable) Document {
	doc := record.ToDocument()
	doc.Index = rt.Index
	doc.Connection = rt.Connection
	return doc
}

// Registry resolves record type names registered at startup.
type Registry struct {
	mu    sync.RWMutex
	types map[string]RecordType
}

func NewRegistry(types ...RecordType) *Registry {
	r := &Registry{types: make(map[string]RecordType, len(types))}
	for _, t := range types {
		r.types[t.Name] = t
	}
	return r
}

// Register adds rt, replacing any type with the same name.
func (r *Registry) Register(rt RecordType) error {
	if rt.Name == "" || rt.Index == "" {
		return fmt.Errorf("record type requires a name and an index, got %q/%q", rt.Name, rt.Index)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[rt.Name] = rt
	return nil
}

func (r *Registry) Lookup(name string) (RecordType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[name]
	if !ok {
		return RecordType{}, fmt.Errorf("%w: %s", ErrUnknownRecordType, name)
	}
	return rt, nil
}

// ByIndex finds the record type stored in the logical index.
func (r *Registry) ByIndex(index string) (RecordType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.types {
		if rt.Index == index {
			return rt, nil
		}
	}
	return RecordType{}, fmt.Errorf("%w: no type for index %s", ErrUnknownRecordType, index)
}

// Types returns registered types sorted by name.
func (r *Registry) Types() []RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordType, 0, len(r.types))
	for _, rt := range r.types {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Cursor is a keyset position in (updated_at, id) order.
type Cursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
}

// PageRef addresses one page of a source scan: up to Limit records
// starting at Start inclusive.
type PageRef struct {
	Start Cursor `json:"start"`
	Limit int    `json:"limit"`
}
