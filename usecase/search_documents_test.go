package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"search-sync/domain"
)

func TestSearchDocumentsUsecase_Execute(t *testing.T) {
	tests := []struct {
		name      string
		req       SearchRequest
		searchErr error
		wantErr   error
		wantText  string
		wantLimit int
		wantCall  bool
	}{
		{
			name:      "text query with default limit",
			req:       SearchRequest{RecordType: "widget", Text: "  blue   bolt "},
			wantText:  "blue bolt",
			wantLimit: DefaultSearchLimit,
			wantCall:  true,
		},
		{
			name:      "filter only",
			req:       SearchRequest{RecordType: "widget", Filters: map[string]string{"color": "blue"}, Limit: 5},
			wantLimit: 5,
			wantCall:  true,
		},
		{
			name:    "empty query",
			req:     SearchRequest{RecordType: "widget"},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "limit too large",
			req:     SearchRequest{RecordType: "widget", Text: "bolt", Limit: MaxSearchLimit + 1},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "negative offset",
			req:     SearchRequest{RecordType: "widget", Text: "bolt", Offset: -1},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "dangerous characters",
			req:     SearchRequest{RecordType: "widget", Text: "<script>"},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "filter on unfilterable field",
			req:     SearchRequest{RecordType: "widget", Text: "bolt", Filters: map[string]string{"name": "x"}},
			wantErr: ErrInvalidSearch,
		},
		{
			name:    "unknown record type",
			req:     SearchRequest{RecordType: "gadget", Text: "bolt"},
			wantErr: domain.ErrUnknownRecordType,
		},
		{
			name:      "unsupported vector query",
			req:       SearchRequest{RecordType: "widget", Vector: []float32{0.1, 0.2}},
			searchErr: domain.Permanent(domain.ErrUnsupportedQuery),
			wantErr:   domain.ErrUnsupportedQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend("widgets")
			backend.searchErr = tt.searchErr
			uc := NewSearchDocumentsUsecase(domain.NewRegistry(widgetType()), backend)

			resp, err := uc.Execute(context.Background(), tt.req)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "widgets", resp.Index)
			assert.Equal(t, tt.wantText, resp.Query)
			if tt.wantCall {
				assert.Equal(t, "widgets", backend.searchIndex)
				assert.Equal(t, tt.wantText, backend.lastQuery.Text)
				assert.Equal(t, tt.wantLimit, backend.lastQuery.Limit)
			}
		})
	}
}

func TestSearchDocumentsUsecase_Execute_SanitizedToNothing(t *testing.T) {
	backend := newMockBackend("widgets")
	uc := NewSearchDocumentsUsecase(domain.NewRegistry(widgetType()), backend)

	resp, err := uc.Execute(context.Background(), SearchRequest{RecordType: "widget", Text: "javascript:"})
	require.NoError(t, err)
	assert.Empty(t, resp.Result.Hits)
	assert.Empty(t, backend.searchIndex, "backend not queried")
}
