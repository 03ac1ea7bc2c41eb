package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/usecase"
)

type Searcher interface {
	Execute(ctx context.Context, req usecase.SearchRequest) (*usecase.SearchResponse, error)
}

type Reindexer interface {
	Execute(ctx context.Context, recordType string) (*usecase.ReindexPlan, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the search and operator endpoints.
type Handler struct {
	registry  *domain.Registry
	searcher  Searcher
	reindexer Reindexer
	checks    map[string]HealthCheck
}

func NewHandler(registry *domain.Registry, searcher Searcher, reindexer Reindexer, checks map[string]HealthCheck) *Handler {
	return &Handler{
		registry:  registry,
		searcher:  searcher,
		reindexer: reindexer,
		checks:    checks,
	}
}

type SearchHit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields"`
}

type SearchResponse struct {
	Type  string      `json:"type"`
	Query string      `json:"query"`
	Total int64       `json:"total"`
	Hits  []SearchHit `json:"hits"`
}

type ReindexResponse struct {
	Type      string    `json:"type"`
	Index     string    `json:"index"`
	TempIndex string    `json:"temp_index"`
	StartedAt time.Time `json:"started_at"`
	Pages     int       `json:"pages"`
	ChainID   string    `json:"chain_id"`
}

type TypeResponse struct {
	Name       string `json:"name"`
	Index      string `json:"index"`
	Connection string `json:"connection,omitempty"`
}

// Health answers 200 when every dependency check passes, 503 otherwise.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.FromContext(ctx).Warn("health check failed", "dependency", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	return c.JSON(status, body)
}

// Search serves GET /v1/search?type=&q=&limit=&offset=&filter=field:value.
func (h *Handler) Search(c echo.Context) error {
	recordType := c.QueryParam("type")
	if recordType == "" {
		recordType = c.Param("type")
	}
	if recordType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type parameter required")
	}

	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		return err
	}
	filters, err := parseFilters(c.QueryParams()["filter"])
	if err != nil {
		return err
	}

	resp, err := h.searcher.Execute(c.Request().Context(), usecase.SearchRequest{
		RecordType: recordType,
		Text:       c.QueryParam("q"),
		Filters:    filters,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return h.toHTTPError(c, "search", err)
	}

	out := SearchResponse{
		Type:  recordType,
		Query: resp.Query,
		Total: resp.Result.Total,
		Hits:  make([]SearchHit, 0, len(resp.Result.Hits)),
	}
	for _, hit := range resp.Result.Hits {
		out.Hits = append(out.Hits, SearchHit{ID: hit.ID, Score: hit.Score, Fields: hit.Fields})
	}
	return c.JSON(http.StatusOK, out)
}

// Reindex starts a zero-downtime rebuild of one record type.
func (h *Handler) Reindex(c echo.Context) error {
	recordType := c.Param("type")
	ctx := logger.WithRecord(c.Request().Context(), recordType, "")

	plan, err := h.reindexer.Execute(ctx, recordType)
	if err != nil {
		return h.toHTTPError(c, "reindex", err)
	}

	return c.JSON(http.StatusAccepted, ReindexResponse{
		Type:      plan.RecordType,
		Index:     plan.LogicalIndex,
		TempIndex: plan.TempIndex,
		StartedAt: plan.StartedAt,
		Pages:     plan.Pages,
		ChainID:   plan.ChainID,
	})
}

// Types lists the registered record types.
func (h *Handler) Types(c echo.Context) error {
	types := h.registry.Types()
	out := make([]TypeResponse, 0, len(types))
	for _, rt := range types {
		out = append(out, TypeResponse{Name: rt.Name, Index: rt.Index, Connection: rt.Connection})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) toHTTPError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidSearch), errors.Is(err, domain.ErrUnsupportedQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownRecordType):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrReindexInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	logger.FromContext(c.Request().Context()).Error(op+" failed", "error", err)
	var se *domain.SearchEngineError
	if errors.As(err, &se) && se.Kind == domain.ErrorKindTransient {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search backend unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return v, nil
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		field, value, ok := strings.Cut(f, ":")
		if !ok || field == "" || value == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "filter must be field:value")
		}
		filters[field] = value
	}
	return filters, nil
}
