package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 << 20

// Article is one record of the unified article JSONL format.
type Article struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	NormalizedURL string         `json:"normalized_url"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	ContentHash   string         `json:"content_hash"`
	Source        string         `json:"source"`
	Category      string         `json:"category"`
	WordCount     int            `json:"word_count"`
	CharCount     int            `json:"char_count"`
	ExtractedAt   string         `json:"extracted_at"`
	LastUpdated   string         `json:"last_updated"`
	Metadata      map[string]any `json:"metadata"`
	HasImages     bool           `json:"has_images"`
	HasPDFs       bool           `json:"has_pdfs"`
}

// Document converts the article. Everything besides the core fields ends up
// in Metadata as strings.
func (a Article) Document() store.Document {
	meta := flattenMetadata(a.Metadata)
	set := func(k, v string) {
		if v != "" {
			meta[k] = v
		}
	}
	set("normalized_url", a.NormalizedURL)
	set("content_hash", a.ContentHash)
	set("extracted_at", a.ExtractedAt)
	set("last_updated", a.LastUpdated)
	if a.WordCount > 0 {
		meta["word_count"] = strconv.Itoa(a.WordCount)
	}
	if a.CharCount > 0 {
		meta["char_count"] = strconv.Itoa(a.CharCount)
	}
	if a.HasImages {
		meta["has_images"] = "true"
	}
	if a.HasPDFs {
		meta["has_pdfs"] = "true"
	}

	u := a.URL
	if u == "" {
		u = a.NormalizedURL
	}
	return store.Document{
		ID:       a.ID,
		Title:    a.Title,
		Content:  a.Content,
		URL:      u,
		Source:   a.Source,
		Category: a.Category,
		Metadata: meta,
	}
}

// ReadJSONL decodes unified articles, one per line. Blank lines are ignored
// and malformed lines are skipped with a warning.
func ReadJSONL(r io.Reader, origin string) ([]store.Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var docs []store.Document
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var a Article
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			slog.Warn("corpus_line_invalid",
				slog.String("origin", origin),
				slog.Int("line", line),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, a.Document())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s line %d: %w", origin, line+1, err)
	}
	return finalize(docs, origin), nil
}

// flattenMetadata renders arbitrary JSON metadata values as strings.
func flattenMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in)+6)
	for k, v := range in {
		if s, ok := metadataString(v); ok {
			out[k] = s
		}
	}
	return out
}

func metadataString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
