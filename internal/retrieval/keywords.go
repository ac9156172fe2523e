// Package retrieval finds source files relevant to an issue and renders them as prompt context.
package retrieval

import (
	"regexp"
	"sort"
	"strings"
)

// MaxKeywords caps ExtractKeywords output
const MaxKeywords = 10

var wordRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]{3,}\b`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "of": true, "and": true, "or": true, "but": true, "not": true,
	"with": true, "this": true, "that": true, "when": true, "if": true, "it": true, "as": true,
	"be": true, "by": true, "from": true, "are": true, "was": true, "were": true, "will": true,
	"would": true, "could": true, "should": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "i": true, "we": true, "you": true, "he": true,
	"she": true,
}

// ExtractKeywords returns up to MaxKeywords distinct identifier-like tokens,
// longest first, ties in order of first appearance.
// Tokens are compared case-insensitively for stop words and duplicates;
// the first-seen spelling is kept.
func ExtractKeywords(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range wordRe.FindAllString(text, -1) {
		lower := strings.ToLower(w)
		if stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		words = append(words, w)
	}

	sort.SliceStable(words, func(i, j int) bool {
		return len(words[i]) > len(words[j])
	})
	if len(words) > MaxKeywords {
		words = words[:MaxKeywords]
	}
	return words
}
