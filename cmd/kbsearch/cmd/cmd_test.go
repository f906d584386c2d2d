package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := run(t, "", "--help")
	require.NoError(t, err)
	for _, sub := range []string{"search", "index", "stats", "repl", "init", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	out, err = run(t, "", "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

const misspellingsConfig = `search:
  misspellings:
    pasword: password
    kisok: kiosk
`

func TestSearchCmd_Text(t *testing.T) {
	env := newTestEnv(t, misspellingsConfig)

	out, err := run(t, "", "--config", env.config, "search", "how", "do", "I", "reset", "my", "pasword")
	require.NoError(t, err)

	assert.Contains(t, out, "Query: how do I reset my pasword")
	assert.Contains(t, out, "Enhanced: how do i reset my password")
	assert.Contains(t, out, "1. Reset your password")
}

func TestSearchCmd_JSON(t *testing.T) {
	env := newTestEnv(t, misspellingsConfig)

	out, err := run(t, "", "--config", env.config, "search", "kisok mode", "-k", "2", "--format", "json")
	require.NoError(t, err)

	var report struct {
		Query         string   `json:"query"`
		EnhancedQuery string   `json:"enhanced_query"`
		Keywords      []string `json:"keywords"`
		Mode          string   `json:"mode"`
		Count         int      `json:"count"`
		Results       []struct {
			Title       string  `json:"title"`
			URL         string  `json:"url"`
			HybridScore float64 `json:"hybrid_score"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "kisok mode", report.Query)
	assert.Contains(t, report.EnhancedQuery, "kiosk")
	assert.Equal(t, []string{"kisok", "mode"}, report.Keywords)
	assert.Equal(t, "hybrid", report.Mode)
	require.NotEmpty(t, report.Results)
	assert.LessOrEqual(t, report.Count, 2)
	assert.Equal(t, "Configure kiosk mode", report.Results[0].Title)
	for i := 1; i < len(report.Results); i++ {
		assert.GreaterOrEqual(t, report.Results[i-1].HybridScore, report.Results[i].HybridScore)
	}
}

func TestSearchCmd_BM25ModeWithoutVectors(t *testing.T) {
	env := newTestEnv(t, "vector:\n  enabled: false\n")

	out, err := run(t, "", "--config", env.config, "search", "vpn", "--mode", "bm25")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Set up the VPN")
	assert.Contains(t, out, "mode=bm25")
}

func TestSearchCmd_InvalidInput(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"mode", []string{"search", "vpn", "--mode", "semantic"}, kberrors.ErrCodeInvalidMode},
		{"limit", []string{"search", "vpn", "-k", "0"}, kberrors.ErrCodeInvalidLimit},
		{"format", []string{"search", "vpn", "--format", "xml"}, kberrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", append([]string{"--config", env.config}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, kberrors.GetCode(err))
		})
	}
}

func TestSearchCmd_MissingCorpus(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, os.Remove(env.corpus))

	_, err := run(t, "", "--config", env.config, "search", "vpn")
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeFileNotFound, kberrors.GetCode(err))
}

func TestSearchCmd_MissingConfig(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := run(t, "", "--config", filepath.Join(env.dir, "nope.yaml"), "search", "vpn")
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeConfigNotFound, kberrors.GetCode(err))
}

func TestIndexCmd_SavesVectors(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := run(t, "", "--config", env.config, "index", "--format", "json")
	require.NoError(t, err)

	var res indexResult
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &res))
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 3, res.LexicalIndexed)
	assert.Equal(t, 3, res.VectorIndexed)
	assert.Equal(t, "memory", res.LexicalBackend)
	assert.FileExists(t, filepath.Join(env.dataDir, "vectors", "documents.json"))

	// the saved index is picked up by later searches
	out, err = run(t, "", "--config", env.config, "search", "kiosk", "--mode", "vector", "-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Configure kiosk mode")
}

func TestIndexCmd_SavedLexicalIndexIsReused(t *testing.T) {
	for _, backend := range []string{"bleve", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, "lexical:\n  backend: "+backend+"\nvector:\n  enabled: false")

			_, err := run(t, "", "--config", env.config, "index")
			require.NoError(t, err)

			// rewrite the corpus but keep its mtime older than the saved index
			changed := strings.ReplaceAll(testCorpus, "Kiosk mode locks", "Lockdown pins")
			changed = strings.ReplaceAll(changed, "Enable kiosk mode", "Enable lockdown")
			require.NoError(t, os.WriteFile(env.corpus, []byte(changed), 0o644))
			past := time.Now().Add(-time.Hour)
			require.NoError(t, os.Chtimes(env.corpus, past, past))

			out, err := run(t, "", "--config", env.config, "search", "kiosk", "--mode", "bm25")
			require.NoError(t, err)
			assert.Contains(t, out, "1. Configure kiosk mode", "served from the saved index")

			// a corpus newer than the saved index forces an in-memory build
			future := time.Now().Add(time.Hour)
			require.NoError(t, os.Chtimes(env.corpus, future, future))
			out, err = run(t, "", "--config", env.config, "search", "kiosk", "--mode", "bm25")
			require.NoError(t, err)
			assert.Contains(t, out, "0 result(s)")
		})
	}
}

func TestIndexCmd_Locked(t *testing.T) {
	env := newTestEnv(t, "")

	held := store.NewBuildLock(env.dataDir)
	ok, err := held.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release()

	_, err = run(t, "", "--config", env.config, "index")
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeIndexLocked, kberrors.GetCode(err))
}

func TestStatsCmd(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := run(t, "", "--config", env.config, "stats", "--format", "json")
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "articles", st["collection_name"])
	assert.EqualValues(t, 3, st["total_documents"])
	assert.Equal(t, true, st["lexical_initialized"])
	assert.Equal(t, "memory", st["lexical_backend"])
	assert.Equal(t, "static-fnv-256", st["embedder"])

	out, err = run(t, "", "--config", env.config, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total_documents")
	assert.Contains(t, out, "static-fnv-256")
}

func TestReplCmd(t *testing.T) {
	env := newTestEnv(t, "")

	input := strings.Join([]string{
		":mode bm25",
		"kiosk",
		":k 0",
		":k 1",
		":analyze andriod vpn",
		":mode fuzzy",
		":bogus",
		":stats",
		"",
		":quit",
		"never reached",
	}, "\n")
	out, err := run(t, input, "--config", env.config, "repl")
	require.NoError(t, err)

	assert.Contains(t, out, "articles: 3 documents (memory)")
	assert.Contains(t, out, "mode = bm25")
	assert.Contains(t, out, "1. Configure kiosk mode")
	assert.Contains(t, out, "limit must be a positive integer")
	assert.Contains(t, out, "k = 1")
	assert.Contains(t, out, "enhanced: android")
	assert.Contains(t, out, kberrors.ErrCodeInvalidMode)
	assert.Contains(t, out, "unknown command :bogus")
	assert.Contains(t, out, "collection_name")
	assert.NotContains(t, out, "never reached")
}

func TestReplCmd_RefreshPicksUpEdits(t *testing.T) {
	env := newTestEnv(t, "")

	extra := `{"url":"https://help.example.com/articles/printer","title":"Add a printer","content":"Printers are added from the devices page.","category":"devices"}` + "\n"
	// the corpus is edited before :refresh runs; the engine was built from the original file
	input := ":stats\n:refresh\n:mode bm25\nprinter\n"

	out, err := runWithHook(t, input, func() {
		f, err := os.OpenFile(env.corpus, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(extra)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}, "--config", env.config, "repl")
	require.NoError(t, err)

	assert.Contains(t, out, "Refreshed 4 documents")
	assert.Contains(t, out, "1. Add a printer")
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	path := filepath.Join(dir, "kbsearch.yaml")

	out, err := run(t, "", "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vector_weight: 0.7")

	out, err = run(t, "", "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, "", "--config", path, "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up")
	matches, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = run(t, "", "--config", path, "init", "--format", "ini")
	require.Error(t, err)
}

func TestInitCmd_Restore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	path := filepath.Join(dir, "kbsearch.yaml")

	_, err := run(t, "", "--config", path, "init", "--restore")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("search:\n  default_k: 9\n"), 0o644))
	_, err = run(t, "", "--config", path, "init", "--force")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vector_weight: 0.7")

	out, err := run(t, "", "--config", path, "init", "--restore")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+path)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "search:\n  default_k: 9\n", string(data))

	_, err = run(t, "", "--config", path, "init", "--restore", "--force")
	require.Error(t, err)
}

func TestInitCmd_TOMLAndUser(t *testing.T) {
	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path := filepath.Join(dir, "kbsearch.toml")
	_, err := run(t, "", "--config", path, "init", "--format", "toml")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[search]")

	_, err = run(t, "", "init", "--user")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(xdg, "kbsearch", "config.yaml"))
}
