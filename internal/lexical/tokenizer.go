// Package lexical provides tokenisation, per-document term-frequency
// indexing, and the BM25-style scorer used by hybrid search. There is no
// global IDF table; keyword boosting substitutes for term importance.
package lexical

import (
	"regexp"
	"strings"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"

	"github.com/liliang-cn/ragstore/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\b[a-z0-9]+(?:-[a-z0-9]+)*\b`)

var numericPattern = regexp.MustCompile(`^[0-9]+$`)

// stopWords is a fixed English set; tokens in it never reach the index.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "after": {}, "again": {}, "against": {},
	"all": {}, "am": {}, "an": {}, "and": {}, "any": {}, "are": {}, "as": {},
	"at": {}, "be": {}, "because": {}, "been": {}, "before": {}, "being": {},
	"below": {}, "between": {}, "both": {}, "but": {}, "by": {}, "can": {},
	"did": {}, "do": {}, "does": {}, "doing": {}, "down": {}, "during": {},
	"each": {}, "few": {}, "for": {}, "from": {}, "further": {}, "had": {},
	"has": {}, "have": {}, "having": {}, "he": {}, "her": {}, "here": {},
	"hers": {}, "him": {}, "his": {}, "how": {}, "i": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "its": {}, "just": {}, "me": {}, "more": {},
	"most": {}, "my": {}, "no": {}, "nor": {}, "not": {}, "now": {}, "of": {},
	"off": {}, "on": {}, "once": {}, "only": {}, "or": {}, "other": {},
	"our": {}, "ours": {}, "out": {}, "over": {}, "own": {}, "same": {},
	"she": {}, "should": {}, "so": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "theirs": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"through": {}, "to": {}, "too": {}, "under": {}, "until": {}, "up": {},
	"very": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "who": {}, "whom": {}, "why": {},
	"will": {}, "with": {}, "you": {}, "your": {}, "yours": {},
}

// Tokenize lowercases, extracts word tokens, drops stop words and pure
// numbers, and stems each survivor with the Snowball English stemmer.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)

	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, stop := stopWords[match]; stop {
			continue
		}
		if numericPattern.MatchString(match) {
			continue
		}
		tokens = append(tokens, stem(match))
	}

	return tokens
}

func stem(token string) string {
	env := snowballstem.NewEnv(token)
	english.Stem(env)
	return env.Current()
}

// BuildIndex aggregates token frequencies across all chunks of a document.
func BuildIndex(chunks []string) *domain.LexicalIndex {
	frequencies := make(map[string]int)
	for _, chunk := range chunks {
		for _, token := range Tokenize(chunk) {
			frequencies[token]++
		}
	}
	return &domain.LexicalIndex{TermFrequencies: frequencies}
}
