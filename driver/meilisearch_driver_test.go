package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"

	"search-sync/domain"
)

func TestEscapeMeilisearchValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "golang", want: "golang"},
		{input: `say "hi"`, want: `say \"hi\"`},
		{input: `C:\path`, want: `C:\\path`},
		{input: `\"`, want: `\\\"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeMeilisearchValue(tt.input), tt.input)
	}
}

func TestBuildMeiliFilter(t *testing.T) {
	assert.Empty(t, buildMeiliFilter(nil))
	assert.Equal(t, `tags = "go"`, buildMeiliFilter(map[string]string{"tags": "go"}))
	assert.Equal(t,
		`lang = "en" AND tags = "a \"quoted\" tag"`,
		buildMeiliFilter(map[string]string{"tags": `a "quoted" tag`, "lang": "en"}),
	)
}

func TestMeilisearchDriver_Classify(t *testing.T) {
	d := &MeilisearchDriver{}

	assert.Equal(t, domain.ErrorKindTransient, d.classify("Search", context.DeadlineExceeded).Kind)
	assert.Equal(t, domain.ErrorKindTransient, d.classify("Search", errors.New("dial tcp: refused")).Kind)
	assert.Equal(t, domain.ErrorKindNotFound, d.classify("Search", &meilisearch.Error{StatusCode: 404}).Kind)
	assert.Equal(t, domain.ErrorKindTransient, d.classify("Search", &meilisearch.Error{StatusCode: 503}).Kind)
	assert.Equal(t, domain.ErrorKindPermanent, d.classify("Search", &meilisearch.Error{StatusCode: 400}).Kind)
}

func TestGetString(t *testing.T) {
	m := map[string]any{"id": "a1", "n": 3}
	assert.Equal(t, "a1", getString(m, "id"))
	assert.Empty(t, getString(m, "n"))
	assert.Empty(t, getString(m, "missing"))
}
