package usecase

import (
	"context"
	"errors"
	"fmt"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/port"
	"search-sync/utils"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 1000
)

// ErrInvalidSearch wraps every rejection of caller input.
var ErrInvalidSearch = errors.New("invalid search request")

type SearchRequest struct {
	RecordType  string
	Text        string
	Vector      []float32
	VectorField string
	Filters     map[string]string
	Limit       int
	Offset      int
}

type SearchResponse struct {
	Index  string
	Query  string
	Result domain.SearchResult
}

// SearchDocumentsUsecase queries the logical index of a record type.
type SearchDocumentsUsecase struct {
	registry  *domain.Registry
	backend   port.SearchBackend
	sanitizer *utils.QuerySanitizer
}

func NewSearchDocumentsUsecase(registry *domain.Registry, backend port.SearchBackend) *SearchDocumentsUsecase {
	return &SearchDocumentsUsecase{
		registry:  registry,
		backend:   backend,
		sanitizer: utils.NewQuerySanitizer(utils.DefaultSanitizerConfig()),
	}
}

func (u *SearchDocumentsUsecase) Execute(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	rt, err := u.registry.Lookup(req.RecordType)
	if err != nil {
		return nil, err
	}

	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}
	if req.Limit < 0 || req.Limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidSearch, MaxSearchLimit)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidSearch)
	}
	if req.Text == "" && len(req.Vector) == 0 && len(req.Filters) == 0 {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidSearch)
	}

	if err := u.sanitizer.Validate(req.Text); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}
	text, err := u.sanitizer.Sanitize(req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}
	if err := domain.ValidateFilters(rt.Mapping, req.Filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}

	resp := &SearchResponse{Index: rt.Index, Query: text}
	if text == "" && len(req.Vector) == 0 && len(req.Filters) == 0 {
		resp.Result = domain.SearchResult{Hits: []domain.SearchHit{}}
		return resp, nil
	}

	resp.Result, err = u.backend.Search(ctx, rt.Index, domain.Query{
		Text:        text,
		Vector:      req.Vector,
		VectorField: req.VectorField,
		Filters:     req.Filters,
		Limit:       req.Limit,
		Offset:      req.Offset,
	})
	if err != nil {
		logger.FromContext(logger.WithIndex(ctx, rt.Index)).Error("search failed", "error", err)
		return nil, err
	}
	return resp, nil
}
