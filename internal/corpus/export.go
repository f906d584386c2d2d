package corpus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

// Export is a vector-store collection dump. The parallel arrays may sit at
// the top level or under "data".
type Export struct {
	Name      string           `json:"name"`
	Count     int              `json:"count,omitempty"`
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
	Data      *Export          `json:"data,omitempty"`
}

// ReadExport decodes a collection export. Reserved metadata keys (title,
// url, source, category) fill the matching Document fields.
func ReadExport(r io.Reader, origin string) (string, []store.Document, error) {
	var ex Export
	if err := json.NewDecoder(r).Decode(&ex); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", origin, err)
	}
	name := ex.Name
	body := ex
	if ex.Data != nil {
		body = *ex.Data
	}
	if len(body.IDs) != len(body.Documents) {
		return "", nil, fmt.Errorf("%s: %d ids for %d documents", origin, len(body.IDs), len(body.Documents))
	}

	docs := make([]store.Document, 0, len(body.IDs))
	for i, id := range body.IDs {
		var raw map[string]any
		if i < len(body.Metadatas) {
			raw = body.Metadatas[i]
		}
		meta := flattenMetadata(raw)
		take := func(k string) string {
			v := meta[k]
			delete(meta, k)
			return v
		}
		docs = append(docs, store.Document{
			ID:       id,
			Content:  body.Documents[i],
			Title:    take("title"),
			URL:      take("url"),
			Source:   take("source"),
			Category: take("category"),
			Metadata: meta,
		})
	}
	return name, finalize(docs, origin), nil
}
