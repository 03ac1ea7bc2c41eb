package domain

import "errors"

var (
	// ErrReindexInFlight is returned when a rebuild of the same index holds the lock.
	ErrReindexInFlight = errors.New("reindex already in flight")
	// ErrTempIndexMissing means a finalizer found no temp index to cut over to.
	ErrTempIndexMissing = errors.New("temp index does not exist")
	// ErrCutoverUnverified means the backend did not report the expected alias after cutover.
	ErrCutoverUnverified = errors.New("cutover could not be verified")
	// ErrRebuildProvisioning means an epoch exists but its temp index is not recorded yet.
	ErrRebuildProvisioning = errors.New("rebuild is provisioning its temp index")
	// ErrRecordNotFound is returned by a document source for a missing record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownRecordType is returned for a record type nobody registered.
	ErrUnknownRecordType = errors.New("unknown record type")
	// ErrUnsupportedQuery is returned by backends that cannot run a query shape.
	ErrUnsupportedQuery = errors.New("query not supported by backend")
	// ErrPermanent marks an error that must not be retried.
	ErrPermanent = errors.New("permanent failure")
)

// ErrorKind classifies backend failures for retry decisions.
type ErrorKind int

const (
	ErrorKindTransient ErrorKind = iota
	ErrorKindMapping
	ErrorKindNotFound
	ErrorKindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindMapping:
		return "mapping"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// RepositoryError represents an error from the repository layer.
type RepositoryError struct {
	Op  string
	Err string
}

func (e *RepositoryError) Error() string {
	return e.Op + ": " + e.Err
}

// SearchEngineError represents an error from the search engine layer.
type SearchEngineError struct {
	Op   string
	Err  string
	Kind ErrorKind
}

func (e *SearchEngineError) Error() string {
	return e.Op + ": " + e.Err
}

// Is lets errors.Is(err, ErrPermanent) match permanent backend failures.
func (e *SearchEngineError) Is(target error) bool {
	return target == ErrPermanent && e.Kind == ErrorKindPermanent
}

// Permanent wraps err so that IsRetryable reports false.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

func kindOf(err error) (ErrorKind, bool) {
	var se *SearchEngineError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsMappingError reports whether the backend rejected a document against its mapping.
func IsMappingError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindMapping
}

// IsNotFound reports whether the backend answered not-found.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrorKindNotFound
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrTempIndexMissing) ||
		errors.Is(err, ErrUnknownRecordType) || errors.Is(err, ErrReindexInFlight) {
		return false
	}
	if k, ok := kindOf(err); ok {
		return k == ErrorKindTransient
	}
	return true
}
