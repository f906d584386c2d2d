// Package config loads kbsearch configuration from YAML or TOML files and
// KBSEARCH_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbsearch/internal/corpus"
	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// ProjectConfigNames are looked up in the working directory when no path is
// given, in this order.
var ProjectConfigNames = []string{"kbsearch.yaml", "kbsearch.yml", "kbsearch.toml"}

// Config is the complete kbsearch configuration.
type Config struct {
	Version    int              `yaml:"version" toml:"version" json:"version"`
	Corpus     CorpusConfig     `yaml:"corpus" toml:"corpus" json:"corpus"`
	Search     SearchConfig     `yaml:"search" toml:"search" json:"search"`
	Lexical    LexicalConfig    `yaml:"lexical" toml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" toml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Logging    logging.Config   `yaml:"logging" toml:"logging" json:"logging"`
}

// CorpusConfig locates the knowledge base and the index directory.
type CorpusConfig struct {
	Path    string `yaml:"path" toml:"path" json:"path"`
	Format  string `yaml:"format" toml:"format" json:"format"`
	Name    string `yaml:"name" toml:"name" json:"name"`
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
}

// SearchConfig configures fusion and query enhancement.
// Weights can be overridden with KBSEARCH_VECTOR_WEIGHT and
// KBSEARCH_BM25_WEIGHT.
type SearchConfig struct {
	VectorWeight    float64 `yaml:"vector_weight" toml:"vector_weight" json:"vector_weight"`
	BM25Weight      float64 `yaml:"bm25_weight" toml:"bm25_weight" json:"bm25_weight"`
	OverfetchFactor int     `yaml:"overfetch_factor" toml:"overfetch_factor" json:"overfetch_factor"`
	DisplayLength   int     `yaml:"display_length" toml:"display_length" json:"display_length"`
	DefaultLimit    int     `yaml:"default_limit" toml:"default_limit" json:"default_limit"`
	// VectorTimeout is a Go duration string such as "5s".
	VectorTimeout string `yaml:"vector_timeout" toml:"vector_timeout" json:"vector_timeout"`
	LazyInit      bool   `yaml:"lazy_init" toml:"lazy_init" json:"lazy_init"`

	Synonyms     map[string][]string `yaml:"synonyms,omitempty" toml:"synonyms,omitempty" json:"synonyms,omitempty"`
	Misspellings map[string]string   `yaml:"misspellings,omitempty" toml:"misspellings,omitempty" json:"misspellings,omitempty"`
	MaxSynonyms  int                 `yaml:"max_synonyms" toml:"max_synonyms" json:"max_synonyms"`
}

// LexicalConfig selects the BM25 backend.
type LexicalConfig struct {
	Backend string  `yaml:"backend" toml:"backend" json:"backend"`
	K1      float64 `yaml:"k1" toml:"k1" json:"k1"`
	B       float64 `yaml:"b" toml:"b" json:"b"`
}

// VectorConfig controls the vector branch.
type VectorConfig struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	BreakerMaxFailures  int    `yaml:"breaker_max_failures" toml:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerResetTimeout string `yaml:"breaker_reset_timeout" toml:"breaker_reset_timeout" json:"breaker_reset_timeout"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" toml:"provider" json:"provider"`
	Model      string `yaml:"model" toml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" toml:"ollama_host" json:"ollama_host"`
	BaseURL    string `yaml:"base_url" toml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key" toml:"api_key" json:"-"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" toml:"timeout" json:"timeout"`
	CacheSize  int    `yaml:"cache_size" toml:"cache_size" json:"cache_size"`

	// RequestsPerSecond throttles remote providers. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	sd := search.DefaultConfig()
	bm := store.DefaultBM25Config()
	ed := embed.DefaultConfig()
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			Path:    filepath.Join("data", "articles.jsonl"),
			DataDir: ".kbsearch",
		},
		Search: SearchConfig{
			VectorWeight:    sd.Weights.Vector,
			BM25Weight:      sd.Weights.BM25,
			OverfetchFactor: sd.OverfetchFactor,
			DisplayLength:   sd.DisplayLength,
			DefaultLimit:    5,
			VectorTimeout:   sd.VectorTimeout.String(),
		},
		Lexical: LexicalConfig{
			Backend: string(store.BackendMemory),
			K1:      bm.K1,
			B:       bm.B,
		},
		Vector: VectorConfig{
			Enabled:             true,
			BreakerMaxFailures:  sd.BreakerMaxFailures,
			BreakerResetTimeout: sd.BreakerResetTimeout.String(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   ed.Provider,
			OllamaHost: embed.DefaultOllamaHost,
			BatchSize:  ed.BatchSize,
			Timeout:    ed.Timeout.String(),
			CacheSize:  ed.CacheSize,
		},
		Logging: logging.DefaultConfig(),
	}
}

// GetUserConfigPath returns the user-level configuration file:
//   - $XDG_CONFIG_HOME/kbsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbsearch", "config.yaml")
}

// FindProjectConfig returns the first of ProjectConfigNames present in dir,
// or "".
func FindProjectConfig(dir string) string {
	for _, name := range ProjectConfigNames {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load builds the configuration in order of increasing precedence:
//  1. Built-in defaults
//  2. User config (GetUserConfigPath)
//  3. path, or the project config found in the working directory
//  4. Environment variables (KBSEARCH_*)
//
// A path that does not exist is an error; missing implicit files are not.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if user := GetUserConfigPath(); fileExists(user) {
		if err := cfg.loadFile(user); err != nil {
			return nil, err
		}
	}

	if path == "" {
		path = FindProjectConfig(".")
	} else if !fileExists(path) {
		return nil, kberrors.New(kberrors.ErrCodeConfigNotFound, "config file not found: "+path, nil).
			WithSuggestion("run 'kbsearch init' to create one")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path over the current values, so keys absent from the
// file keep their previous value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kberrors.ConfigError("failed to read config file "+path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return kberrors.ConfigError("failed to parse config file "+path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes as io.EOF
		if err := dec.Decode(c); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return kberrors.ConfigError("failed to parse config file "+path, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KBSEARCH_CORPUS"); v != "" {
		c.Corpus.Path = v
	}
	if v := os.Getenv("KBSEARCH_DATA_DIR"); v != "" {
		c.Corpus.DataDir = v
	}
	// explicit zero weights are honoured
	if v := os.Getenv("KBSEARCH_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("KBSEARCH_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("KBSEARCH_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("KBSEARCH_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("KBSEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("KBSEARCH_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	} else if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("KBSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) expandPaths() {
	c.Corpus.Path = expandHome(c.Corpus.Path)
	c.Corpus.DataDir = expandHome(c.Corpus.DataDir)
	c.Logging.FilePath = expandHome(c.Logging.FilePath)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return kberrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if c.Search.VectorWeight < 0 {
		return invalid("search.vector_weight must be non-negative, got %g", c.Search.VectorWeight)
	}
	if c.Search.BM25Weight < 0 {
		return invalid("search.bm25_weight must be non-negative, got %g", c.Search.BM25Weight)
	}
	if c.Search.OverfetchFactor < 1 {
		return invalid("search.overfetch_factor must be at least 1, got %d", c.Search.OverfetchFactor)
	}
	if c.Search.DisplayLength < 0 {
		return invalid("search.display_length must be non-negative, got %d", c.Search.DisplayLength)
	}
	if c.Search.DefaultLimit < 1 {
		return invalid("search.default_limit must be at least 1, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxSynonyms < 0 {
		return invalid("search.max_synonyms must be non-negative, got %d", c.Search.MaxSynonyms)
	}
	if _, err := parseDuration("search.vector_timeout", c.Search.VectorTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("vector.breaker_reset_timeout", c.Vector.BreakerResetTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("embeddings.timeout", c.Embeddings.Timeout); err != nil {
		return err
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return invalid("embeddings.requests_per_second must be non-negative, got %g", c.Embeddings.RequestsPerSecond)
	}

	backend, err := store.ParseBackend(c.Lexical.Backend)
	if err != nil {
		return err
	}
	if c.Lexical.K1 < 0 || c.Lexical.B < 0 || c.Lexical.B > 1 {
		return invalid("lexical.k1 must be non-negative and lexical.b within [0,1], got k1=%g b=%g", c.Lexical.K1, c.Lexical.B)
	}
	if backend != store.BackendMemory && c.BM25Config() != store.DefaultBM25Config() {
		return kberrors.ConfigError(
			fmt.Sprintf("lexical.k1 and lexical.b are fixed by the %s backend, got k1=%g b=%g", backend, c.Lexical.K1, c.Lexical.B), nil).
			WithSuggestion("remove lexical.k1 and lexical.b or use lexical.backend: memory")
	}

	switch embed.Provider(strings.ToLower(c.Embeddings.Provider)) {
	case "", embed.ProviderStatic, embed.ProviderOllama, embed.ProviderOpenAI:
	default:
		return kberrors.ConfigError(fmt.Sprintf("embeddings.provider must be static, ollama or openai, got %q", c.Embeddings.Provider), nil)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Corpus.Format != "" && c.Corpus.Format != string(corpus.FormatJSONL) && c.Corpus.Format != string(corpus.FormatExport) {
		return invalid("corpus.format must be jsonl or export, got %q", c.Corpus.Format)
	}
	return nil
}

// parseDuration accepts "" as zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, kberrors.ConfigError(fmt.Sprintf("%s must be a non-negative duration like \"5s\", got %q", field, s), err)
	}
	return d, nil
}

// EngineConfig converts the search settings. Call after Validate.
func (c *Config) EngineConfig(collection string) search.EngineConfig {
	vt, _ := parseDuration("", c.Search.VectorTimeout)
	rt, _ := parseDuration("", c.Vector.BreakerResetTimeout)
	if c.Corpus.Name != "" {
		collection = c.Corpus.Name
	}
	return search.EngineConfig{
		CollectionName:      collection,
		Weights:             search.Weights{Vector: c.Search.VectorWeight, BM25: c.Search.BM25Weight},
		OverfetchFactor:     c.Search.OverfetchFactor,
		DisplayLength:       c.Search.DisplayLength,
		VectorTimeout:       vt,
		LazyInit:            c.Search.LazyInit,
		BreakerMaxFailures:  c.Vector.BreakerMaxFailures,
		BreakerResetTimeout: rt,
	}
}

// EnhancerOptions returns the configured vocabulary additions.
func (c *Config) EnhancerOptions() []search.EnhancerOption {
	var opts []search.EnhancerOption
	if len(c.Search.Synonyms) > 0 {
		opts = append(opts, search.WithCustomSynonyms(c.Search.Synonyms))
	}
	if len(c.Search.Misspellings) > 0 {
		opts = append(opts, search.WithMisspellings(c.Search.Misspellings))
	}
	if c.Search.MaxSynonyms > 0 {
		opts = append(opts, search.WithMaxSynonyms(c.Search.MaxSynonyms))
	}
	return opts
}

// EmbedConfig converts the embeddings settings. Call after Validate.
func (c *Config) EmbedConfig() embed.Config {
	timeout, _ := parseDuration("", c.Embeddings.Timeout)
	return embed.Config{
		Provider:   c.Embeddings.Provider,
		Model:      c.Embeddings.Model,
		Host:       c.Embeddings.OllamaHost,
		BaseURL:    c.Embeddings.BaseURL,
		APIKey:     c.Embeddings.APIKey,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
		Timeout:    timeout,
		CacheSize:  c.Embeddings.CacheSize,

		RequestsPerSecond: c.Embeddings.RequestsPerSecond,
	}
}

// BM25Config returns the Okapi parameters.
func (c *Config) BM25Config() store.BM25Config {
	return store.BM25Config{K1: c.Lexical.K1, B: c.Lexical.B}
}

// Write encodes the configuration as TOML when path ends in .toml and as
// YAML otherwise.
func (c *Config) Write(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
