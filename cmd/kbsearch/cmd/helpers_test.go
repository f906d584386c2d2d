package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCorpus = `{"url":"https://help.example.com/articles/reset-password","title":"Reset your password","content":"To reset a forgotten password open the login page and choose forgot password. A reset link is emailed to you.","category":"account","source":"helpcenter"}
{"url":"https://help.example.com/articles/kiosk-mode","title":"Configure kiosk mode","content":"Kiosk mode locks an android device to a single app. Enable kiosk mode from the device policy page.","category":"devices","source":"helpcenter"}
{"url":"https://help.example.com/articles/vpn","title":"Set up the VPN","content":"Install the VPN client, sign in with single sign on and connect to the nearest gateway.","category":"network","source":"helpcenter"}
`

type testEnv struct {
	dir     string
	config  string
	corpus  string
	dataDir string
}

// newTestEnv writes a corpus and a config using the static embedder and
// isolates the command from the user's config and environment.
func newTestEnv(t *testing.T, extraConfig string) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	for _, k := range []string{
		"KBSEARCH_CORPUS", "KBSEARCH_DATA_DIR", "KBSEARCH_VECTOR_WEIGHT", "KBSEARCH_BM25_WEIGHT",
		"KBSEARCH_LEXICAL_BACKEND", "KBSEARCH_EMBEDDER", "KBSEARCH_OLLAMA_HOST",
		"KBSEARCH_OPENAI_API_KEY", "OPENAI_API_KEY", "KBSEARCH_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	env := testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "kbsearch.yaml"),
		corpus:  filepath.Join(dir, "articles.jsonl"),
		dataDir: filepath.Join(dir, "data"),
	}
	require.NoError(t, os.WriteFile(env.corpus, []byte(testCorpus), 0o644))

	cfg := strings.Join([]string{
		"corpus:",
		"  path: " + env.corpus,
		"  data_dir: " + env.dataDir,
		"embeddings:",
		"  provider: static",
		"logging:",
		"  level: error",
		"  stderr: false",
		extraConfig,
	}, "\n")
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	return env
}

// run executes the root command with args and optional stdin.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// hookReader runs hook before the first read, once the command has finished
// its setup and starts consuming input.
type hookReader struct {
	r    *strings.Reader
	hook func()
	done bool
}

func (h *hookReader) Read(p []byte) (int, error) {
	if !h.done {
		h.done = true
		h.hook()
	}
	return h.r.Read(p)
}

func runWithHook(t *testing.T, stdin string, hook func(), args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(&hookReader{r: strings.NewReader(stdin), hook: hook})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
