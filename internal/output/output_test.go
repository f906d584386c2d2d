package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Success("Index complete") }, "✓ Index complete\n"},
		{"warning", func(w *Writer) { w.Warningf("%d skipped", 2) }, "! 2 skipped\n"},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, "✗ Failed to connect\n"},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, "   indented\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(NewWithColor(buf, false))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNew_BufferIsNotColored(t *testing.T) {
	// Given: a non-terminal destination
	w := New(&bytes.Buffer{})

	// Then: no styling is applied
	assert.False(t, w.Color())
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	NewWithColor(buf, false).Code("line1\nline2")
	assert.Equal(t, "\n  line1\n  line2\n\n", buf.String())
}

func sampleResults() []search.SearchResult {
	return []search.SearchResult{
		{
			ID: "a", Title: "Reset your password", URL: "https://help.example.com/reset",
			Content: "Open settings...", Category: "account", Source: "helpcenter",
			VectorScore: 0.8, BM25Score: 2.5, HybridScore: 1.31,
			MatchedTerms: []string{"password", "reset"},
		},
		{ID: "b", Title: "Kiosk mode", Content: "Kiosk mode locks a device.", HybridScore: 0.42},
	}
}

func TestWriter_Results_Text(t *testing.T) {
	// Given: a report with an enhanced query
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)
	a := search.QueryAnalysis{Query: "pasword reset", EnhancedQuery: "password reset", Keywords: []string{"pasword", "reset"}}

	// When: rendering it as text
	w.Results(NewSearchReport(a, search.ModeHybrid, 5, sampleResults(), 12*time.Millisecond))

	// Then: ranks, scores and metadata are shown in order
	out := buf.String()
	assert.Contains(t, out, "Query: pasword reset")
	assert.Contains(t, out, "Enhanced: password reset")
	assert.Contains(t, out, "2 result(s), mode=hybrid, 12ms")
	assert.Contains(t, out, "hybrid 1.3100  vector 0.8000  bm25 2.5000")
	assert.Contains(t, out, "category: account | source: helpcenter | matched: password, reset")
	assert.Contains(t, out, "https://help.example.com/reset")
	assert.Less(t, strings.Index(out, "1. Reset your password"), strings.Index(out, "2. Kiosk mode"))
}

func TestWriter_Results_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)
	a := search.QueryAnalysis{Query: "zzz", EnhancedQuery: "zzz"}

	w.Results(NewSearchReport(a, search.ModeBM25, 3, nil, 0))

	out := buf.String()
	assert.NotContains(t, out, "Enhanced:", "unchanged query is not repeated")
	assert.Contains(t, out, "No results")
}

func TestWriter_JSON_Report(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)
	a := search.QueryAnalysis{Query: "q", EnhancedQuery: "q"}

	require.NoError(t, w.JSON(NewSearchReport(a, search.ModeVector, 2, nil, time.Second)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "q", decoded["enhanced_query"])
	assert.Equal(t, []any{}, decoded["keywords"])
	assert.Equal(t, []any{}, decoded["results"])
	assert.Equal(t, "vector", decoded["mode"])
	assert.EqualValues(t, 1000, decoded["took_ms"])
}

func TestWriter_Stats(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	w.Stats(search.EngineStats{
		CollectionName:     "knowledge_base",
		TotalDocuments:     3,
		LexicalInitialized: true,
		IndexedDocuments:   3,
		LexicalBackend:     "memory",
		Weights:            search.DefaultWeights(),
		OverfetchFactor:    2,
		VectorConfigured:   true,
		VectorBreaker:      "closed",
	}, "static")

	out := buf.String()
	for _, want := range []string{
		"collection_name      knowledge_base",
		"total_documents      3",
		"lexical_initialized  true",
		"vector_weight        0.7000",
		"embedder             static",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "last_refresh")
}
