package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

// SearchReport is the JSON shape of `kbsearch search --format json`.
type SearchReport struct {
	Query         string                `json:"query"`
	EnhancedQuery string                `json:"enhanced_query"`
	Keywords      []string              `json:"keywords"`
	Mode          search.Mode           `json:"mode"`
	Limit         int                   `json:"limit"`
	Count         int                   `json:"count"`
	TookMS        int64                 `json:"took_ms"`
	Results       []search.SearchResult `json:"results"`
}

// NewSearchReport assembles a report. Results is never nil so that JSON
// consumers always see an array.
func NewSearchReport(a search.QueryAnalysis, mode search.Mode, limit int, results []search.SearchResult, took time.Duration) SearchReport {
	if results == nil {
		results = []search.SearchResult{}
	}
	keywords := a.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return SearchReport{
		Query:         a.Query,
		EnhancedQuery: a.EnhancedQuery,
		Keywords:      keywords,
		Mode:          mode,
		Limit:         limit,
		Count:         len(results),
		TookMS:        took.Milliseconds(),
		Results:       results,
	}
}

// Results renders a report as ranked text blocks.
func (w *Writer) Results(r SearchReport) {
	s := w.styles
	_, _ = fmt.Fprintf(w.out, "%s %s\n", s.Header.Render("Query:"), r.Query)
	if r.EnhancedQuery != "" && r.EnhancedQuery != r.Query {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", s.Label.Render("Enhanced:"), r.EnhancedQuery)
	}
	_, _ = fmt.Fprintf(w.out, "%s\n\n", s.Dim.Render(fmt.Sprintf("%d result(s), mode=%s, %dms", r.Count, r.Mode, r.TookMS)))

	if len(r.Results) == 0 {
		w.Warning("No results")
		return
	}

	for i, res := range r.Results {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", s.Rank.Render(fmt.Sprintf("%d.", i+1)), s.Title.Render(res.Title))
		if res.URL != "" {
			_, _ = fmt.Fprintf(w.out, "   %s\n", s.URL.Render(res.URL))
		}
		_, _ = fmt.Fprintf(w.out, "   %s %s  %s %s  %s %s\n",
			s.Label.Render("hybrid"), s.Score.Render(formatScore(res.HybridScore)),
			s.Label.Render("vector"), formatScore(res.VectorScore),
			s.Label.Render("bm25"), formatScore(res.BM25Score))
		if meta := metaLine(res); meta != "" {
			_, _ = fmt.Fprintf(w.out, "   %s\n", s.Dim.Render(meta))
		}
		if res.Content != "" {
			for _, line := range strings.Split(strings.TrimSpace(res.Content), "\n") {
				_, _ = fmt.Fprintf(w.out, "   %s\n", line)
			}
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

// Stats renders engine statistics as aligned label/value rows inside a panel.
func (w *Writer) Stats(st search.EngineStats, embedder string) {
	rows := [][2]string{
		{"collection_name", st.CollectionName},
		{"total_documents", fmt.Sprintf("%d", st.TotalDocuments)},
		{"lexical_initialized", fmt.Sprintf("%t", st.LexicalInitialized)},
		{"indexed_documents", fmt.Sprintf("%d", st.IndexedDocuments)},
		{"skipped_documents", fmt.Sprintf("%d", st.SkippedDocuments)},
		{"lexical_backend", st.LexicalBackend},
		{"vector_weight", formatScore(st.Weights.Vector)},
		{"bm25_weight", formatScore(st.Weights.BM25)},
		{"overfetch_factor", fmt.Sprintf("%d", st.OverfetchFactor)},
		{"vector_configured", fmt.Sprintf("%t", st.VectorConfigured)},
		{"vector_breaker", st.VectorBreaker},
		{"embedder", embedder},
	}
	if !st.LastRefresh.IsZero() {
		rows = append(rows, [2]string{"last_refresh", st.LastRefresh.Format(time.RFC3339)})
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(w.styles.Label.Render(fmt.Sprintf("%-*s", width, r[0])))
		b.WriteString("  ")
		b.WriteString(r[1])
	}

	if w.color {
		_, _ = fmt.Fprintln(w.out, w.styles.Panel.Render(b.String()))
		return
	}
	_, _ = fmt.Fprintln(w.out, b.String())
}

func metaLine(r search.SearchResult) string {
	var parts []string
	if r.Category != "" {
		parts = append(parts, "category: "+r.Category)
	}
	if r.Source != "" {
		parts = append(parts, "source: "+r.Source)
	}
	if len(r.MatchedTerms) > 0 {
		parts = append(parts, "matched: "+strings.Join(r.MatchedTerms, ", "))
	}
	return strings.Join(parts, " | ")
}

func formatScore(f float64) string {
	return fmt.Sprintf("%.4f", f)
}
