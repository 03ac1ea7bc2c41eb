// Package utils holds small helpers shared by the usecases and the REST layer.
package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const DefaultMaxQueryLength = 1000

// SanitizerConfig controls QuerySanitizer.
type SanitizerConfig struct {
	MaxQueryLength      int
	DisallowedPatterns  []*regexp.Regexp
	AllowedSpecialChars []string
	NormalizeWhitespace bool
}

func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		MaxQueryLength:      DefaultMaxQueryLength,
		AllowedSpecialChars: []string{"-", "_", ".", "!", "?", "&", "+", "@", "#"},
		NormalizeWhitespace: true,
	}
}

var (
	rejectedChars = []string{"<", ">", "'", "\"", ";", "\\", "/", "*"}
	scriptSchemes = regexp.MustCompile(`(?i)(javascript|vbscript|data):|on(load|error|click|mouseover)\s*=`)
	zeroWidth     = strings.NewReplacer("\u200B", "", "\u200C", "", "\u200D", "", "\uFEFF", "", "\u200E", "", "\u200F", "")
)

// QuerySanitizer cleans free-text search input and filter values before they
// reach a search backend.
type QuerySanitizer struct {
	cfg    SanitizerConfig
	policy *bluemonday.Policy
}

func NewQuerySanitizer(cfg SanitizerConfig) *QuerySanitizer {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	return &QuerySanitizer{cfg: cfg, policy: bluemonday.StrictPolicy()}
}

// QueryError is returned for input the sanitizer refuses.
type QueryError struct {
	Reason string
	Detail string
}

func (e *QueryError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

// Validate rejects over-long input, control characters, and characters not on
// the allow list. Call it before Sanitize.
func (s *QuerySanitizer) Validate(query string) error {
	if len(query) > s.cfg.MaxQueryLength {
		return &QueryError{Reason: "query_too_long", Detail: fmt.Sprintf("%d > %d bytes", len(query), s.cfg.MaxQueryLength)}
	}
	for _, r := range query {
		if r == 0 || (r < 32 && r != '\t' && r != '\n' && r != '\r') {
			return &QueryError{Reason: "control_character"}
		}
	}
	for _, c := range rejectedChars {
		if strings.Contains(query, c) && !s.allowed(c) {
			return &QueryError{Reason: "dangerous_character", Detail: c}
		}
	}
	return nil
}

// Sanitize URL-decodes the query, strips markup and script schemes, and
// collapses whitespace.
func (s *QuerySanitizer) Sanitize(query string) (string, error) {
	if query == "" {
		return "", nil
	}
	if decoded, err := url.QueryUnescape(query); err == nil {
		query = decoded
	}

	query = zeroWidth.Replace(query)
	query = s.policy.Sanitize(query)
	// bluemonday escapes what it keeps; the backend wants raw text.
	query = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", "\"", "&lt;", "<", "&gt;", ">").Replace(query)
	query = scriptSchemes.ReplaceAllString(query, "")

	for _, re := range s.cfg.DisallowedPatterns {
		if re.MatchString(query) {
			return "", &QueryError{Reason: "disallowed_pattern", Detail: re.String()}
		}
	}

	if s.cfg.NormalizeWhitespace {
		query = strings.Join(strings.Fields(query), " ")
	}
	return query, nil
}

func (s *QuerySanitizer) allowed(c string) bool {
	for _, a := range s.cfg.AllowedSpecialChars {
		if a == c {
			return true
		}
	}
	return false
}
