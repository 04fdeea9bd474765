package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// Searcher, fusion and reranker names accepted in configuration and flags.
const (
	SearcherLexical = "lexical"
	SearcherVector  = "vector"
	SearcherNull    = "null"

	FusionNone  = "none"
	FusionChain = "chain"
	FusionRRF   = "rrf"

	RerankNone            = "none"
	RerankCrossEncoder    = "cross-encoder"
	RerankLateInteraction = "late-interaction"
	RerankOverlap         = "overlap"
)

// ProjectConfigFile is the per-directory configuration file name.
const ProjectConfigFile = ".pgwsearch.yaml"

var (
	knownSearchers = []string{SearcherLexical, SearcherVector, SearcherNull}
	knownFusions   = []string{FusionNone, FusionChain, FusionRRF}
	knownRerankers = []string{RerankNone, RerankCrossEncoder, RerankLateInteraction, RerankOverlap}
)

// Config is the complete pgwsearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig locates the store, the index artifacts and the catalog.
// Database and IndexDir default to files under DataDir.
type PathsConfig struct {
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	Database string `yaml:"database" json:"database"`
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	Catalog  string `yaml:"catalog" json:"catalog"`
}

// SearchConfig selects the pipeline composition.
type SearchConfig struct {
	// Searchers run in parallel; two or more require a fusion method.
	Searchers []string `yaml:"searchers" json:"searchers"`
	// Fusion is "none", "chain" or "rrf".
	Fusion string `yaml:"fusion" json:"fusion"`
	// RRFConstant is k in 1/(k+rank).
	RRFConstant int    `yaml:"rrf_constant" json:"rrf_constant"`
	Reranker    string `yaml:"reranker" json:"reranker"`
	MaxResults  int    `yaml:"max_results" json:"max_results"`
	// LexicalMaxCount caps BM25 matches; 0 keeps every match.
	LexicalMaxCount int `yaml:"lexical_max_count" json:"lexical_max_count"`
	// BM25Backend is "sqlite" (FTS5) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
}

// EmbeddingsConfig configures the embedding provider and vector retrieval.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// QueryPrefix is prepended to queries before embedding. Empty selects
	// the model's default; "none" disables it.
	QueryPrefix string `yaml:"query_prefix" json:"query_prefix"`
	// UseIndex searches the HNSW artifact instead of scanning every vector.
	UseIndex  bool `yaml:"use_index" json:"use_index"`
	MaxCount  int  `yaml:"max_count" json:"max_count"`
	CacheSize int  `yaml:"cache_size" json:"cache_size"`
	BatchSize int  `yaml:"batch_size" json:"batch_size"`
	Workers   int  `yaml:"workers" json:"workers"`
}

// RerankerConfig configures the rerank server client and reranker stage.
type RerankerConfig struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Model       string `yaml:"model" json:"model"`
	Timeout     string `yaml:"timeout" json:"timeout"`
	BatchSize   int    `yaml:"batch_size" json:"batch_size"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	// TopK bounds late-interaction output; 0 keeps every candidate.
	TopK int `yaml:"top_k" json:"top_k"`
}

// LoggingConfig configures log level and file.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File overrides the default log path.
	File string `yaml:"file" json:"file"`
}

// ServerConfig configures `pgwsearch serve`.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	// MetricsAddr serves Prometheus /metrics when set, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			Searchers:   []string{SearcherLexical},
			Fusion:      FusionNone,
			RRFConstant: 60,
			Reranker:    RerankNone,
			MaxResults:  10,
			BM25Backend: "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "bge-small-en-v1.5",
			MaxCount:  50,
			CacheSize: 1000,
			BatchSize: 32,
			Workers:   runtime.NumCPU(),
		},
		Reranker: RerankerConfig{
			Endpoint:    "http://localhost:9659",
			Model:       "bge-reranker-base",
			Timeout:     "30s",
			BatchSize:   32,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Transport: "stdio",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pgwsearch")
	}
	return filepath.Join(home, ".pgwsearch")
}

// DatabasePath returns the SQLite document store path.
func (c *Config) DatabasePath() string {
	if c.Paths.Database != "" {
		return c.Paths.Database
	}
	return filepath.Join(c.Paths.DataDir, "pgwsearch.db")
}

// IndexDir returns the directory holding lexical and ANN index artifacts.
func (c *Config) IndexDir() string {
	if c.Paths.IndexDir != "" {
		return c.Paths.IndexDir
	}
	return filepath.Join(c.Paths.DataDir, "indexes")
}

// RerankTimeout returns the parsed reranker timeout, 30s when unset.
func (c *Config) RerankTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reranker.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetUserConfigPath returns the user configuration file:
// $XDG_CONFIG_HOME/pgwsearch/config.yaml, or ~/.config/pgwsearch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pgwsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "pgwsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "pgwsearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir. Later sources win:
//  1. defaults
//  2. user config (GetUserConfigPath)
//  3. project config (.pgwsearch.yaml or .pgwsearch.yml in dir)
//  4. PGWS_* environment variables
//
// The result is validated.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	for _, name := range []string{ProjectConfigFile, ".pgwsearch.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current values; lists are replaced, not merged. Unknown keys are errors.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pgerrors.New(pgerrors.ErrCodeConfigNotFound, "cannot read config file "+path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return pgerrors.New(pgerrors.ErrCodeConfigInvalid, "cannot parse config file "+path, err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies PGWS_* variables. Malformed numbers are errors
// rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"PGWS_DATA_DIR":            &c.Paths.DataDir,
		"PGWS_DATABASE":            &c.Paths.Database,
		"PGWS_INDEX_DIR":           &c.Paths.IndexDir,
		"PGWS_CATALOG":             &c.Paths.Catalog,
		"PGWS_FUSION":              &c.Search.Fusion,
		"PGWS_RERANKER":            &c.Search.Reranker,
		"PGWS_BM25_BACKEND":        &c.Search.BM25Backend,
		"PGWS_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"PGWS_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"PGWS_OLLAMA_HOST":         &c.Embeddings.OllamaHost,
		"PGWS_QUERY_PREFIX":        &c.Embeddings.QueryPrefix,
		"PGWS_RERANKER_ENDPOINT":   &c.Reranker.Endpoint,
		"PGWS_RERANKER_MODEL":      &c.Reranker.Model,
		"PGWS_LOG_LEVEL":           &c.Logging.Level,
		"PGWS_LOG_FILE":            &c.Logging.File,
		"PGWS_TRANSPORT":           &c.Server.Transport,
		"PGWS_METRICS_ADDR":        &c.Server.MetricsAddr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PGWS_RRF_CONSTANT":      &c.Search.RRFConstant,
		"PGWS_MAX_RESULTS":       &c.Search.MaxResults,
		"PGWS_LEXICAL_MAX_COUNT": &c.Search.LexicalMaxCount,
		"PGWS_VECTOR_MAX_COUNT":  &c.Embeddings.MaxCount,
		"PGWS_RERANKER_TOP_K":    &c.Reranker.TopK,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return pgerrors.New(pgerrors.ErrCodeConfigInvalid, key+" must be an integer", err).
				WithDetail("value", v)
		}
		*dst = n
	}

	if v := os.Getenv("PGWS_SEARCHERS"); v != "" {
		c.Search.Searchers = splitList(v)
	}
	if v := os.Getenv("PGWS_USE_INDEX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return pgerrors.New(pgerrors.ErrCodeConfigInvalid, "PGWS_USE_INDEX must be a boolean", err)
		}
		c.Embeddings.UseIndex = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func invalid(format string, args ...any) error {
	return pgerrors.Newf(pgerrors.ErrCodeConfigInvalid, format, args...)
}

// Validate checks names, numeric ranges and pipeline composition.
func (c *Config) Validate() error {
	s := c.Search
	for _, name := range s.Searchers {
		if !slices.Contains(knownSearchers, name) {
			return invalid("search.searchers: unknown searcher %q (want %s)", name, strings.Join(knownSearchers, ", "))
		}
	}
	if !slices.Contains(knownFusions, s.Fusion) {
		return invalid("search.fusion: unknown method %q (want %s)", s.Fusion, strings.Join(knownFusions, ", "))
	}
	if !slices.Contains(knownRerankers, s.Reranker) {
		return invalid("search.reranker: unknown reranker %q (want %s)", s.Reranker, strings.Join(knownRerankers, ", "))
	}
	if err := ValidateComposition(s.Searchers, s.Fusion); err != nil {
		return err
	}

	if s.RRFConstant < 1 {
		return invalid("search.rrf_constant must be at least 1, got %d", s.RRFConstant)
	}
	if s.MaxResults < 0 || s.LexicalMaxCount < 0 {
		return invalid("search.max_results and search.lexical_max_count must be non-negative")
	}
	if s.BM25Backend != "sqlite" && s.BM25Backend != "bleve" {
		return invalid("search.bm25_backend must be 'sqlite' or 'bleve', got %q", s.BM25Backend)
	}

	e := c.Embeddings
	if e.Provider != "ollama" && e.Provider != "static" {
		return invalid("embeddings.provider must be 'ollama' or 'static', got %q", e.Provider)
	}
	if e.MaxCount < 0 || e.BatchSize < 0 || e.Workers < 0 {
		return invalid("embeddings counts must be non-negative")
	}

	r := c.Reranker
	if r.BatchSize < 0 || r.Concurrency < 0 || r.TopK < 0 {
		return invalid("reranker counts must be non-negative")
	}
	if r.Timeout != "" {
		if d, err := time.ParseDuration(r.Timeout); err != nil || d <= 0 {
			return invalid("reranker.timeout must be a positive duration, got %q", r.Timeout)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Server.Transport != "stdio" {
		return invalid("server.transport must be 'stdio', got %q", c.Server.Transport)
	}
	return nil
}

// ValidateComposition applies the pipeline rules: at least one searcher,
// a fusion method with two or more, none with exactly one.
func ValidateComposition(searchers []string, fusion string) error {
	switch n := len(searchers); {
	case n == 0:
		return pgerrors.New(pgerrors.ErrCodeNoSearchers, "no searchers configured", nil).
			WithSuggestion("Set search.searchers or pass --searcher lexical")
	case n == 1 && fusion != FusionNone:
		return pgerrors.New(pgerrors.ErrCodeRedundantFusionMethod,
			fmt.Sprintf("fusion %q given for a single searcher", fusion), nil).
			WithSuggestion("Use --fusion none or add another searcher")
	case n > 1 && fusion == FusionNone:
		return pgerrors.Newf(pgerrors.ErrCodeNoFusionMethod, "%d searchers require a fusion method", n).
			WithSuggestion("Use --fusion rrf or --fusion chain")
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
