package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestOTelStatus(t *testing.T) {
	tests := []struct {
		name       string
		handler    echo.HandlerFunc
		wantStatus int
		wantCode   codes.Code
	}{
		{
			name:       "ok",
			handler:    func(c echo.Context) error { return c.NoContent(http.StatusOK) },
			wantStatus: http.StatusOK,
			wantCode:   codes.Unset,
		},
		{
			name:       "client error stays unset",
			handler:    func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") },
			wantStatus: http.StatusBadRequest,
			wantCode:   codes.Unset,
		},
		{
			name:       "server error",
			handler:    func(c echo.Context) error { return errors.New("boom") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := setupRecorder(t)
			e := echo.New()
			e.Use(echomw.RequestID(), OTelStatus())
			e.GET("/v1/search/:type", tt.handler)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search/article", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "GET /v1/search/:type", spans[0].Name())
			assert.Equal(t, tt.wantCode, spans[0].Status().Code)
		})
	}
}
