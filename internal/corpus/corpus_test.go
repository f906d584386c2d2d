package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://KB.Example.com/articles/kiosk/", "https://kb.example.com/articles/kiosk"},
		{"https://kb.example.com/a?utm=1#top", "https://kb.example.com/a"},
		{"https://kb.example.com/a;jsessionid=42", "https://kb.example.com/a"},
		{"http://kb.example.com///", "http://kb.example.com"},
		{"  https://kb.example.com/a  ", "https://kb.example.com/a"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("https://KB.example.com/kiosk/?ref=mail")
	b := DocumentID("https://kb.example.com/kiosk")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, DocumentID("https://kb.example.com/wifi"))
}

func TestReadJSONL(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"a1","url":"https://kb.example.com/kiosk","title":"Kiosk","content":"kiosk mode","source":"knowledgebase","category":"android","word_count":2,"metadata":{"views":12,"tags":["a"]}}`,
		``,
		`{not json`,
		`{"url":"https://kb.example.com/wifi/","content":"wifi profiles"}`,
		`{"title":"orphan","content":"no key at all"}`,
		`{"id":"a1","url":"https://kb.example.com/kiosk","title":"Kiosk v2","content":"kiosk mode updated"}`,
	}, "\n")

	docs, err := ReadJSONL(strings.NewReader(input), "test.jsonl")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// duplicate id replaced the first record in place
	assert.Equal(t, "a1", docs[0].ID)
	assert.Equal(t, "Kiosk v2", docs[0].Title)
	assert.Equal(t, "unknown", docs[0].Source)

	wifi := docs[1]
	assert.Equal(t, DocumentID("https://kb.example.com/wifi"), wifi.ID)
	assert.Equal(t, DefaultTitle, wifi.Title)
	assert.Equal(t, DefaultSource, wifi.Source)
	assert.Equal(t, DefaultCategory, wifi.Category)
}

func TestArticleDocument_Metadata(t *testing.T) {
	a := Article{
		ID:          "x",
		Content:     "c",
		WordCount:   3,
		HasPDFs:     true,
		ExtractedAt: "2024-01-02T03:04:05Z",
		Metadata:    map[string]any{"views": 12.0, "tags": []any{"a", "b"}, "empty": nil},
	}
	d := a.Document()
	assert.Equal(t, "12", d.Metadata["views"])
	assert.Equal(t, `["a","b"]`, d.Metadata["tags"])
	assert.Equal(t, "3", d.Metadata["word_count"])
	assert.Equal(t, "true", d.Metadata["has_pdfs"])
	assert.Equal(t, "2024-01-02T03:04:05Z", d.Metadata["extracted_at"])
	assert.NotContains(t, d.Metadata, "empty")
}

func TestReadExport(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"flat", `{"name":"kb-v1","ids":["1","2"],"documents":["kiosk mode","wifi"],"metadatas":[{"title":"Kiosk","url":"https://kb.example.com/k","word_count":2},{"source":"docs"}]}`},
		{"nested", `{"name":"kb-v1","count":2,"data":{"ids":["1","2"],"documents":["kiosk mode","wifi"],"metadatas":[{"title":"Kiosk","url":"https://kb.example.com/k","word_count":2},{"source":"docs"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, docs, err := ReadExport(strings.NewReader(tt.input), "export.json")
			require.NoError(t, err)
			assert.Equal(t, "kb-v1", name)
			require.Len(t, docs, 2)

			assert.Equal(t, "Kiosk", docs[0].Title)
			assert.Equal(t, "https://kb.example.com/k", docs[0].URL)
			assert.Equal(t, "2", docs[0].Metadata["word_count"])
			assert.NotContains(t, docs[0].Metadata, "title")

			assert.Equal(t, "docs", docs[1].Source)
			assert.Equal(t, DefaultTitle, docs[1].Title)
			key, ok := docs[1].Key()
			require.True(t, ok)
			assert.Equal(t, store.KeyExplicitID, key.Kind())
		})
	}
}

func TestReadExport_Mismatch(t *testing.T) {
	_, _, err := ReadExport(strings.NewReader(`{"ids":["1"],"documents":[]}`), "bad.json")
	assert.Error(t, err)
}

func TestFileSupplier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "articles.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","content":"one"}`+"\n"), 0o644))

	f := NewFile(path, "")
	assert.Equal(t, FormatJSONL, f.Format)
	assert.Equal(t, "articles", f.CollectionName())

	docs, err := f.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// re-read picks up changes
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","content":"one"}`+"\n"+`{"id":"b","content":"two"}`+"\n"), 0o644))
	docs, err = f.Documents(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	exportPath := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(exportPath, []byte(`{"name":"support","ids":["x"],"documents":["text"],"metadatas":[{}]}`), 0o644))
	ex := NewFile(exportPath, "")
	assert.Equal(t, FormatExport, ex.Format)
	_, err = ex.Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "support", ex.CollectionName())

	_, err = NewFile(filepath.Join(dir, "missing.jsonl"), "").Documents(context.Background())
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeFileNotFound, kberrors.GetCode(err))
}

func TestStatic(t *testing.T) {
	s := Static{{ID: "a"}}
	docs, err := s.Documents(context.Background())
	require.NoError(t, err)
	docs[0].ID = "changed"
	assert.Equal(t, "a", s[0].ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Documents(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
