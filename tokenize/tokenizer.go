package tokenize

import (
	"sort"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

func InitTokenizer() (*tokenizer.Tokenizer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return t, nil
}

func containsJapanese(text string) bool {
	for _, r := range text {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return true
		}
	}
	return false
}

func IsJapaneseTag(text string) bool {
	return containsJapanese(text)
}

// ProcessTagToSynonyms maps each Japanese tag to its word segmentation.
// Other tags need no processing and are left out.
func ProcessTagToSynonyms(t *tokenizer.Tokenizer, tags []string) map[string][]string {
	result := make(map[string][]string)
	if t == nil {
		return result
	}

	for _, tag := range tags {
		if IsJapaneseTag(tag) {
			result[tag] = t.Wakati(tag)
		}
	}
	return result
}

// TagTokens flattens the segmentations of Japanese tags into a sorted,
// de-duplicated token list for the tag_tokens field. Tokens equal to a
// whole tag are dropped since the tag itself is already indexed.
func TagTokens(t *tokenizer.Tokenizer, tags []string) []string {
	whole := make(map[string]bool, len(tags))
	for _, tag := range tags {
		whole[tag] = true
	}

	seen := make(map[string]bool)
	var tokens []string
	for _, segments := range ProcessTagToSynonyms(t, tags) {
		for _, s := range segments {
			if s == "" || whole[s] || seen[s] {
				continue
			}
			seen[s] = true
			tokens = append(tokens, s)
		}
	}
	sort.Strings(tokens)
	return tokens
}
