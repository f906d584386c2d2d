package store

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Backend names a LexicalIndex implementation.
type Backend string

const (
	// BackendMemory is the in-process Okapi index (default).
	BackendMemory Backend = "memory"
	// BackendBleve uses Bleve's BM25 scoring model.
	BackendBleve Backend = "bleve"
	// BackendSQLite uses SQLite FTS5 bm25().
	BackendSQLite Backend = "sqlite"
)

// Backends lists the accepted backend names.
func Backends() []Backend {
	return []Backend{BackendMemory, BackendBleve, BackendSQLite}
}

// ParseBackend accepts a backend name case-insensitively; "" means memory.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	if b == "" {
		return BackendMemory, nil
	}
	if slices.Contains(Backends(), b) {
		return b, nil
	}
	names := make([]string, 0, len(Backends()))
	for _, known := range Backends() {
		names = append(names, string(known))
	}
	return "", kberrors.ConfigError(fmt.Sprintf("unknown lexical backend %q", name), nil).
		WithSuggestion("use one of: " + strings.Join(names, ", "))
}

// NewLexicalIndex creates a LexicalIndex for backend. dataDir selects where
// persistent backends keep their files; an empty dataDir keeps them in
// memory. The memory backend ignores dataDir.
func NewLexicalIndex(backend string, dataDir string, config BM25Config) (LexicalIndex, error) {
	b, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}

	switch b {
	case BackendBleve:
		return NewBleveBM25Index(LexicalIndexPath(dataDir, b))
	case BackendSQLite:
		return NewSQLiteBM25Index(LexicalIndexPath(dataDir, b))
	default:
		return NewMemoryBM25Index(config), nil
	}
}

// LexicalIndexPath returns the on-disk location for a backend, or "" for the
// memory backend or an empty dataDir.
func LexicalIndexPath(dataDir string, backend Backend) string {
	if dataDir == "" {
		return ""
	}
	switch backend {
	case BackendBleve:
		return filepath.Join(dataDir, "bm25.bleve")
	case BackendSQLite:
		return filepath.Join(dataDir, "bm25.db")
	default:
		return ""
	}
}
