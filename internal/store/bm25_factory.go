package store

import (
	"fmt"
	"os"
	"path/filepath"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// LexicalIndexName is the base name of the BM25 index inside an index directory.
const LexicalIndexName = "bm25"

// BM25Backend selects the lexical index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite is FTS5 in a single WAL-mode file; a server can read
	// while the indexer writes.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve is a Bleve directory. BoltDB holds an exclusive lock,
	// so only one process may have it open.
	BM25BackendBleve BM25Backend = "bleve"
)

// ParseBM25Backend maps a configured name to a backend. Empty means SQLite.
func ParseBM25Backend(name string) (BM25Backend, error) {
	switch BM25Backend(name) {
	case BM25BackendSQLite, "":
		return BM25BackendSQLite, nil
	case BM25BackendBleve:
		return BM25BackendBleve, nil
	default:
		return "", fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", name)
	}
}

func (b BM25Backend) extension() string {
	if b == BM25BackendBleve {
		return ".bleve"
	}
	return ".db"
}

// LexicalIndexPath is the file (sqlite) or directory (bleve) holding the
// lexical index under indexDir.
func LexicalIndexPath(indexDir string, backend BM25Backend) string {
	return filepath.Join(indexDir, LexicalIndexName) + backend.extension()
}

// NewBM25IndexWithBackend opens or creates a BM25 index at basePath plus the
// backend's extension. An empty basePath gives an in-memory index.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	b, err := ParseBM25Backend(backend)
	if err != nil {
		return nil, err
	}
	path := ""
	if basePath != "" {
		path = basePath + b.extension()
	}
	if b == BM25BackendBleve {
		return NewBleveBM25Index(path, config)
	}
	return NewSQLiteBM25Index(path, config)
}

// OpenExistingBM25Index opens the lexical index an earlier index run wrote
// under indexDir. It never creates one: a missing index, or one written by
// the other backend, is ErrCodeIndexUnavailable.
func OpenExistingBM25Index(indexDir string, config BM25Config, backend string) (BM25Index, error) {
	b, err := ParseBM25Backend(backend)
	if err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeConfigInvalid, err.Error(), nil)
	}

	if found := DetectBM25Backend(indexDir); found != b {
		e := pgerrors.New(pgerrors.ErrCodeIndexUnavailable, "lexical index not found", nil).
			WithDetail("path", LexicalIndexPath(indexDir, b))
		if found != "" {
			return nil, e.WithSuggestion(fmt.Sprintf(
				"The index was built with the %s backend; set search.bm25_backend: %s or re-run 'pgwsearch index'", found, found))
		}
		return nil, e.WithSuggestion("Run 'pgwsearch index' first")
	}
	return NewBM25IndexWithBackend(filepath.Join(indexDir, LexicalIndexName), config, string(b))
}

// DetectBM25Backend reports which backend wrote the index under indexDir,
// preferring SQLite when both exist, or "" when there is none.
func DetectBM25Backend(indexDir string) BM25Backend {
	if fileExists(LexicalIndexPath(indexDir, BM25BackendSQLite)) {
		return BM25BackendSQLite
	}
	if dirExists(LexicalIndexPath(indexDir, BM25BackendBleve)) {
		return BM25BackendBleve
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
