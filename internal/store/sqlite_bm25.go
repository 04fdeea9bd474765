package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// ftsSchemaVersion is stored in PRAGMA user_version of the lexical index.
const ftsSchemaVersion = 2

// The entry id is the FTS rowid. Content is stored pre-tokenized; '_' is a
// token character so identifiers such as pg_stat_statements stay whole.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS entry_terms USING fts5(
	content,
	tokenize = "unicode61 tokenchars '_'"
);`

// SQLiteBM25Index is the FTS5 backend of BM25Index. WAL mode lets a serving
// process read while the indexer writes.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens or creates the index file at path. A file that is
// not a valid index is removed and recreated empty. An empty path gives an
// in-memory index.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	if path != "" {
		if err := checkFTSIndex(path); err != nil {
			slog.Warn("sqlite_bm25_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
					return nil, fmt.Errorf("remove corrupt index %s: %w", p, rmErr)
				}
			}
		}
	}

	db, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateFTS(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBM25Index{db: db, path: path, stopWords: BuildStopWordMap(config.StopWords)}, nil
}

// openSQLiteDB opens a single-connection WAL database. One connection keeps
// an in-memory database alive and serializes writers.
func openSQLiteDB(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas configures a connection. modernc.org/sqlite ignores most DSN
// parameters, so each setting is a statement.
func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // KiB
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set %q: %w", p, err)
		}
	}
	return nil
}

func migrateFTS(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == ftsSchemaVersion {
		return nil
	}
	if version > ftsSchemaVersion {
		return fmt.Errorf("lexical index schema %d is newer than supported %d", version, ftsSchemaVersion)
	}
	if _, err := db.Exec(ftsSchema); err != nil {
		return fmt.Errorf("create lexical schema: %w", err)
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ftsSchemaVersion))
	return err
}

// checkFTSIndex returns nil for a missing file or a healthy index.
func checkFTSIndex(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for check: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'entry_terms'`).Scan(&n); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if n == 0 {
		return errors.New("table entry_terms missing")
	}
	return nil
}

func (s *SQLiteBM25Index) usable() error {
	if s.closed {
		return errors.New("index is closed")
	}
	return nil
}

func (s *SQLiteBM25Index) terms(text string) []string {
	return FilterStopWords(Tokenize(text), s.stopWords)
}

// Index adds or replaces documents in one transaction.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no upsert; delete the old row first.
	del, err := tx.PrepareContext(ctx, `DELETE FROM entry_terms WHERE rowid = ?`)
	if err != nil {
		return err
	}
	defer func() { _ = del.Close() }()
	ins, err := tx.PrepareContext(ctx, `INSERT INTO entry_terms(rowid, content) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = ins.Close() }()

	for _, doc := range docs {
		if _, err := del.ExecContext(ctx, int64(doc.ID)); err != nil {
			return fmt.Errorf("replace entry %d: %w", doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, int64(doc.ID), strings.Join(s.terms(doc.Content), " ")); err != nil {
			return fmt.Errorf("index entry %d: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// matchExpression ORs the quoted terms. Terms hold only letters, digits and
// underscores, so quoting needs no escaping.
func matchExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Search returns every entry matching at least one query term with its BM25
// score negated to higher-is-better. limit <= 0 returns all matches.
func (s *SQLiteBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	terms := UniqueTerms(s.terms(query))
	if len(terms) == 0 {
		return []*BM25Result{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, bm25(entry_terms) AS rank
		FROM entry_terms
		WHERE entry_terms MATCH ?
		ORDER BY rank
		LIMIT ?`, matchExpression(terms), limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []*BM25Result{}
	for rows.Next() {
		var id int64
		var rank sql.NullFloat64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if rank.Valid {
			results = append(results, &BM25Result{DocID: uint64(id), Score: -rank.Float64, MatchedTerms: terms})
		}
	}
	return results, rows.Err()
}

// Delete removes entries from the index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	return forEachIDChunk(ids, func(chunk []uint64) error {
		in, args := int64InClause(chunk)
		_, err := s.db.ExecContext(ctx, "DELETE FROM entry_terms WHERE rowid IN ("+in+")", args...)
		return err
	})
}

// maxIDsPerQuery bounds the bound parameters of one IN clause, well under
// SQLite's SQLITE_MAX_VARIABLE_NUMBER.
var maxIDsPerQuery = 1000

// forEachIDChunk calls fn with consecutive slices of ids no longer than
// maxIDsPerQuery, stopping at the first error.
func forEachIDChunk(ids []uint64, fn func(chunk []uint64) error) error {
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		if err := fn(ids[start:min(start+maxIDsPerQuery, len(ids))]); err != nil {
			return err
		}
	}
	return nil
}

// int64InClause returns "?,?,..." and the ids as SQL arguments.
func int64InClause(ids []uint64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

// AllIDs returns the indexed entry ids, ascending.
func (s *SQLiteBM25Index) AllIDs() ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT rowid FROM entry_terms ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Stats reports the document count.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if s.closed || s.db.QueryRow(`SELECT count(*) FROM entry_terms`).Scan(&n) != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: n}
}

// Save checkpoints the WAL so the main file is complete on its own.
func (s *SQLiteBM25Index) Save(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load switches to the index file at path.
func (s *SQLiteBM25Index) Load(path string) error {
	db, err := openSQLiteDB(path)
	if err != nil {
		return err
	}
	if err := migrateFTS(db); err != nil {
		_ = db.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}
	s.db, s.path, s.closed = db, path, false
	return nil
}

// Close checkpoints and closes the index. It is idempotent.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
