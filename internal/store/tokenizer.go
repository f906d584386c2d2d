package store

import (
	"log/slog"
	"strings"
)

// Tokenize lower-cases text and splits it on whitespace. Both documents and
// queries go through it so that their terms line up exactly.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// indexable is a document accepted for lexical indexing together with its
// position in the original corpus.
type indexable struct {
	pos    int
	doc    Document
	tokens []string
}

// prepareCorpus tokenizes docs and drops the ones with no content.
func prepareCorpus(docs []Document, backend string) ([]indexable, int) {
	out := make([]indexable, 0, len(docs))
	skipped := 0
	for i, d := range docs {
		tokens := Tokenize(d.Content)
		if len(tokens) == 0 {
			skipped++
			slog.Warn("document_skipped",
				slog.String("backend", backend),
				slog.String("id", d.ID),
				slog.String("reason", "empty content"))
			continue
		}
		out = append(out, indexable{pos: i, doc: d, tokens: tokens})
	}
	return out, skipped
}

// matchedTerms returns the distinct query terms present in docTerms, in query
// order.
func matchedTerms(queryTerms []string, docTerms map[string]int) []string {
	var out []string
	seen := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if docTerms[t] > 0 {
			out = append(out, t)
		}
	}
	return out
}
