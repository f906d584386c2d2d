package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// SQLiteBM25Index is a LexicalIndex on an SQLite FTS5 table ranked with the
// built-in bm25() function, whose k1=1.2 and b=0.75 are fixed. FTS5's unicode61 tokenizer also splits on
// punctuation, so "setup." and "setup" are the same term here.
type SQLiteBM25Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	docs    map[int]Document
	count   int
	skipped int
	avgDL   float64
}

var _ PersistentIndex = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens (or creates) the database at path. An empty path
// keeps the index in memory.
func NewSQLiteBM25Index(path string) (*SQLiteBM25Index, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to ":memory:" would see a different database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	const schema = `CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		content,
		tokenize='unicode61'
	)`
	const metaSchema = `CREATE TABLE IF NOT EXISTS kb_meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`
	for _, stmt := range []string{schema, metaSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteBM25Index{db: db, path: path, docs: map[int]Document{}}, nil
}

// Build replaces the table contents in a single transaction. Each row's
// rowid is the document's corpus position plus one.
func (s *SQLiteBM25Index) Build(ctx context.Context, docs []Document) error {
	prepared, skipped := prepareCorpus(docs, string(BackendSQLite))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM fts_content`, `DELETE FROM kb_meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(rowid, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	newDocs := make(map[int]Document, len(prepared))
	total := 0
	for _, d := range prepared {
		if _, err := stmt.ExecContext(ctx, d.pos+1, d.doc.Content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.doc.ID, err)
		}
		newDocs[d.pos] = d.doc
		total += len(d.tokens)
	}
	avgDL := 0.0
	if len(prepared) > 0 {
		avgDL = float64(total) / float64(len(prepared))
	}
	if s.path != "" && len(prepared) > 0 {
		data, err := encodeSavedCorpus(newDocs, skipped, avgDL, time.Now())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kb_meta(key, value) VALUES (?, ?)`, savedCorpusKey, data); err != nil {
			return fmt.Errorf("failed to save documents: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}

	s.docs = newDocs
	s.count = len(prepared)
	s.skipped = skipped
	s.avgDL = avgDL
	return nil
}

// Load restores the documents and statistics saved by the last Build of the
// database at the path.
func (s *SQLiteBM25Index) Load(ctx context.Context) (time.Time, error) {
	if s.path == "" {
		return time.Time{}, ErrNoSavedIndex
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, fmt.Errorf("index is closed")
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kb_meta WHERE key = ?`, savedCorpusKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoSavedIndex
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read saved documents: %w", err)
	}
	saved, docs, err := decodeSavedCorpus(data)
	if err != nil {
		return time.Time{}, err
	}

	s.docs = docs
	s.count = len(docs)
	s.skipped = saved.Skipped
	s.avgDL = saved.AvgDocLength
	return saved.BuiltAt, nil
}

// Search matches any query term. bm25() is negative with lower being
// better, so rows are ordered ascending and the score negated.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	terms := Tokenize(queryStr)
	match := ftsMatchExpr(terms)
	if s.count == 0 || match == "" || limit <= 0 {
		return []BM25Result{}, nil
	}
	limit = min(limit, s.count)

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, bm25(fts_content) AS score, content
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score, rowid
		LIMIT ?`, match, limit)
	if err != nil {
		// malformed MATCH expressions surface as fts5 syntax errors
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]BM25Result, 0, limit)
	for rows.Next() {
		var (
			rowid   int
			score   float64
			content string
		)
		if err := rows.Scan(&rowid, &score, &content); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if -score <= 0 {
			continue
		}
		tf := make(map[string]int)
		for _, tok := range Tokenize(content) {
			tf[tok]++
		}
		results = append(results, BM25Result{
			DocIndex:     rowid - 1,
			Document:     s.docs[rowid-1],
			Score:        -score,
			MatchedTerms: matchedTerms(terms, tf),
		})
	}
	return results, rows.Err()
}

// ftsMatchExpr quotes every term as an FTS5 string and ORs them together.
// Terms without letters or digits produce no FTS5 tokens and are dropped.
func ftsMatchExpr(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.IndexFunc(t, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		parts = append(parts, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " OR ")
}

func (s *SQLiteBM25Index) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IndexStats{
		Backend:       string(BackendSQLite),
		Built:         s.count > 0,
		DocumentCount: s.count,
		SkippedCount:  s.skipped,
		AvgDocLength:  s.avgDL,
	}
}

// Close checkpoints the WAL for on-disk databases and closes the handle.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
