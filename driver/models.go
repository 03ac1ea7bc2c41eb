package driver

import (
	"time"

	"search-sync/domain"
)

// ArticleWithTags represents an article with its tags from the database
type ArticleWithTags struct {
	ID        string
	Title     string
	Content   string
	UserID    string
	Tags      []TagModel
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

// TagModel represents a tag from the database
type TagModel struct {
	Name string
}

// RowCursor is the (updated_at, id) key of a row.
type RowCursor struct {
	UpdatedAt time.Time
	ID        string
}

// SearchDocumentDriver is a document as sent to a search engine.
type SearchDocumentDriver struct {
	ID   string
	Body map[string]any
}

// BulkResponse is the outcome of one bulk call.
type BulkResponse struct {
	Succeeded int
	Failed    int
	Items     []BulkItemFailure
}

// BulkItemFailure is one rejected document of a bulk call.
type BulkItemFailure struct {
	ID     string
	Reason string
	Kind   domain.ErrorKind
}

// SearchRequestDriver is a backend-neutral query.
type SearchRequestDriver struct {
	Text        string
	Vector      []float32
	VectorField string
	Filters     map[string]string
	Limit       int
	Offset      int
}

// SearchHitDriver is one hit as decoded from the engine.
type SearchHitDriver struct {
	ID     string
	Score  float64
	Source map[string]any
}

// SearchResponseDriver wraps hits and total.
type SearchResponseDriver struct {
	Hits  []SearchHitDriver
	Total int64
}

// DriverError represents an error from the driver layer
type DriverError struct {
	Op   string
	Err  string
	Kind domain.ErrorKind
	// Cause is set when the failure maps to a domain sentinel.
	Cause error
}

func (e *DriverError) Error() string {
	return e.Op + ": " + e.Err
}

func (e *DriverError) Unwrap() error {
	return e.Cause
}

func unsupportedQuery(op string) *DriverError {
	return &DriverError{Op: op, Err: domain.ErrUnsupportedQuery.Error(), Kind: domain.ErrorKindPermanent, Cause: domain.ErrUnsupportedQuery}
}

func transientError(op string, err error) *DriverError {
	return &DriverError{Op: op, Err: err.Error(), Kind: domain.ErrorKindTransient}
}

// kindForStatus maps an HTTP status from a search engine to an error kind.
func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == 404:
		return domain.ErrorKindNotFound
	case status == 408 || status == 429 || status >= 500:
		return domain.ErrorKindTransient
	default:
		return domain.ErrorKindPermanent
	}
}
