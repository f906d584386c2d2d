package search

import (
	"sort"
	"strings"
)

// minKeywordLength is the shortest token ExtractKeywords keeps.
const minKeywordLength = 3

// QueryEnhancer rewrites support queries before retrieval: it fixes common
// misspellings and appends synonyms so that lexical search can bridge the
// gap between customer wording and article wording.
//
// Example:
//
//	Input:  "andriod mdm setup"
//	Output: "android android device mobile device mdm mobile device management device management setup"
type QueryEnhancer struct {
	misspellings []Correction
	synonyms     map[string][]string
	maxSynonyms  int // 0 means no cap
}

// EnhancerOption configures a QueryEnhancer.
type EnhancerOption func(*QueryEnhancer)

// WithCustomSynonyms adds synonym entries. Phrases for a token that already
// has synonyms are appended after the built-in ones.
func WithCustomSynonyms(synonyms map[string][]string) EnhancerOption {
	return func(e *QueryEnhancer) {
		for k, v := range synonyms {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// WithMisspellings adds corrections after the built-in ones, sorted by the
// misspelled form.
func WithMisspellings(corrections map[string]string) EnhancerOption {
	return func(e *QueryEnhancer) {
		keys := make([]string, 0, len(corrections))
		for k := range corrections {
			if k != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.misspellings = append(e.misspellings, Correction{
				Wrong: strings.ToLower(k),
				Right: strings.ToLower(corrections[k]),
			})
		}
	}
}

// WithMaxSynonyms caps the number of phrases appended per token.
func WithMaxSynonyms(n int) EnhancerOption {
	return func(e *QueryEnhancer) {
		if n >= 0 {
			e.maxSynonyms = n
		}
	}
}

// NewQueryEnhancer creates an enhancer seeded with the default tables.
func NewQueryEnhancer(opts ...EnhancerOption) *QueryEnhancer {
	e := &QueryEnhancer{
		misspellings: append([]Correction(nil), DefaultMisspellings...),
		synonyms:     make(map[string][]string, len(DefaultSynonyms)),
	}
	for k, v := range DefaultSynonyms {
		e.synonyms[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enhance lower-cases and trims the query, applies corrections, then appends
// each token's synonyms right after it.
func (e *QueryEnhancer) Enhance(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, c := range e.misspellings {
		q = strings.ReplaceAll(q, c.Wrong, c.Right)
	}

	tokens := strings.Fields(q)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok)
		syns := e.synonyms[tok]
		if e.maxSynonyms > 0 && len(syns) > e.maxSynonyms {
			syns = syns[:e.maxSynonyms]
		}
		out = append(out, syns...)
	}
	return strings.Join(out, " ")
}

// ExtractKeywords returns the query's content words in order. Duplicates
// are kept.
func (e *QueryEnhancer) ExtractKeywords(query string) []string {
	return ExtractKeywords(query)
}

// ExtractKeywords lower-cases query and drops stop words and tokens shorter
// than three characters.
func ExtractKeywords(query string) []string {
	keywords := []string{}
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if _, stop := StopWords[tok]; stop {
			continue
		}
		if len([]rune(tok)) < minKeywordLength {
			continue
		}
		keywords = append(keywords, tok)
	}
	return keywords
}
