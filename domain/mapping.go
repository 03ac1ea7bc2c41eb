package domain

import (
	"fmt"
	"time"
)

// FieldType is the storage type of a mapped field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldKeyword FieldType = "keyword"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldVector  FieldType = "vector"
)

// FieldMapping declares how one document field is stored and searched.
type FieldMapping struct {
	Name       string
	Type       FieldType
	Searchable bool
	Filterable bool
	Sortable   bool
	// Dimensions is required for FieldVector.
	Dimensions int
}

// Mapping is the declared schema of an index.
type Mapping struct {
	Fields []FieldMapping
}

// Field returns the mapping for name.
func (m Mapping) Field(name string) (FieldMapping, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// SearchableFields returns the names of full-text searchable fields in declaration order.
func (m Mapping) SearchableFields() []string {
	return m.names(func(f FieldMapping) bool { return f.Searchable })
}

// FilterableFields returns the names of filterable fields.
func (m Mapping) FilterableFields() []string {
	return m.names(func(f FieldMapping) bool { return f.Filterable })
}

// SortableFields returns the names of sortable fields.
func (m Mapping) SortableFields() []string {
	return m.names(func(f FieldMapping) bool { return f.Sortable })
}

func (m Mapping) names(pred func(FieldMapping) bool) []string {
	out := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if pred(f) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Validate checks a document body against the mapping. Unknown fields and
// values of the wrong type are reported; id and updated_at are implicit.
func (m Mapping) Validate(body map[string]any) error {
	for name, value := range body {
		if name == "id" || name == "updated_at" || value == nil {
			continue
		}
		f, ok := m.Field(name)
		if !ok {
			return fmt.Errorf("field %q is not declared in the mapping", name)
		}
		if !f.Type.accepts(value) {
			return fmt.Errorf("field %q: value of type %T does not match mapped type %s", name, value, f.Type)
		}
		if f.Type == FieldVector && f.Dimensions > 0 {
			if v, ok := value.([]float32); ok && len(v) != f.Dimensions {
				return fmt.Errorf("field %q: vector has %d dimensions, mapping declares %d", name, len(v), f.Dimensions)
			}
		}
	}
	return nil
}

func (t FieldType) accepts(v any) bool {
	switch t {
	case FieldText, FieldKeyword:
		switch v.(type) {
		case string, []string:
			return true
		}
	case FieldInteger:
		switch v.(type) {
		case int, int32, int64, uint32, uint64:
			return true
		}
	case FieldFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
	case FieldBoolean:
		_, ok := v.(bool)
		return ok
	case FieldDate:
		switch v.(type) {
		case time.Time, string:
			return true
		}
	case FieldVector:
		switch v.(type) {
		case []float32, []float64:
			return true
		}
	}
	return false
}
