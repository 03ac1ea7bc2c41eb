package domain

// MaxBulkOperations bounds the operations sent in one bulk call. An upsert
// counts as two: the action line and the document body.
const MaxBulkOperations = 200

// OperationsPerUpsert is the cost of one document in a bulk call.
const OperationsPerUpsert = 2

// BulkItemError reports a per-document failure inside a bulk response.
type BulkItemError struct {
	ID     string
	Reason string
	Kind   ErrorKind
}

// BulkResult aggregates one or more bulk calls.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
	Calls     int
}

// Merge adds other into r.
func (r *BulkResult) Merge(other BulkResult) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
	r.Calls += other.Calls
}

// HasMappingErrors reports whether any item failed against the mapping.
func (r BulkResult) HasMappingErrors() bool {
	for _, e := range r.Errors {
		if e.Kind == ErrorKindMapping {
			return true
		}
	}
	return false
}
