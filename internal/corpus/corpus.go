// Package corpus loads knowledge-base articles into store.Documents.
//
// Two on-disk formats are understood: JSON Lines of unified articles as
// written by the extraction pipeline, and the JSON export of a vector-store
// collection ({name, ids, documents, metadatas}). Every document leaving this
// package has an ID, a title, a source and a category.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

const (
	DefaultTitle    = "Unknown"
	DefaultSource   = "unknown"
	DefaultCategory = "unknown"
)

// Supplier provides the current corpus snapshot.
type Supplier interface {
	Documents(ctx context.Context) ([]store.Document, error)
}

// Static is a fixed in-memory corpus.
type Static []store.Document

func (s Static) Documents(ctx context.Context) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]store.Document, len(s))
	copy(out, s)
	return out, nil
}

// NormalizeURL keeps the scheme, lower-cases the host, strips trailing
// slashes from the path and drops params, query and fragment. Unparseable
// input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	path := u.Path
	if i := strings.IndexByte(path, ';'); i >= 0 {
		path = path[:i]
	}
	n := url.URL{
		Scheme: u.Scheme,
		User:   u.User,
		Host:   strings.ToLower(u.Host),
		Path:   strings.TrimRight(path, "/"),
	}
	return n.String()
}

// DocumentID is the hex sha256 of the normalized URL.
func DocumentID(rawURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}

// finalize applies defaults, derives missing ids, drops documents without a
// key and collapses duplicate ids. A later duplicate replaces the earlier
// one in place.
func finalize(docs []store.Document, origin string) []store.Document {
	out := make([]store.Document, 0, len(docs))
	pos := make(map[string]int, len(docs))
	for _, d := range docs {
		d.URL = strings.TrimSpace(d.URL)
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" && d.URL != "" {
			d.ID = DocumentID(d.URL)
		}
		if _, ok := d.Key(); !ok {
			slog.Warn("corpus_document_skipped",
				slog.String("origin", origin),
				slog.String("title", d.Title),
				slog.String("reason", "no url or id"))
			continue
		}
		if d.Title == "" {
			d.Title = DefaultTitle
		}
		if d.Source == "" {
			d.Source = DefaultSource
		}
		if d.Category == "" {
			d.Category = DefaultCategory
		}

		if i, dup := pos[d.ID]; dup {
			slog.Warn("corpus_duplicate_id",
				slog.String("origin", origin),
				slog.String("id", d.ID))
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
