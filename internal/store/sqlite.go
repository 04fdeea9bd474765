package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// SQLiteStore holds issues, entries, embedding-space metadata and raw
// embedding vectors in one SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ DocumentStore = (*SQLiteStore)(nil)
	_ CatalogWriter = (*SQLiteStore)(nil)
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS issues (
	id           INTEGER PRIMARY KEY,
	published_at TEXT NOT NULL,
	link         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id          INTEGER PRIMARY KEY,
	issue_id    INTEGER NOT NULL REFERENCES issues(id),
	title       TEXT NOT NULL,
	author      TEXT,
	content     TEXT,
	main_link   TEXT NOT NULL,
	other_links TEXT,
	tag         TEXT
);
CREATE INDEX IF NOT EXISTS idx_entries_issue ON entries(issue_id);

CREATE TABLE IF NOT EXISTS embeddings_metadata (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	model_name            TEXT NOT NULL UNIQUE,
	normalized_model_name TEXT NOT NULL,
	dimension             INTEGER NOT NULL,
	index_filename        TEXT
);

CREATE TABLE IF NOT EXISTS embeddings (
	space_id INTEGER NOT NULL REFERENCES embeddings_metadata(id),
	entry_id INTEGER NOT NULL REFERENCES entries(id),
	vec      BLOB NOT NULL,
	PRIMARY KEY (space_id, entry_id)
);
`

// NewSQLiteStore opens or creates the store at path.
// An empty path creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SaveIssues upserts issues.
func (s *SQLiteStore) SaveIssues(ctx context.Context, issues []*Issue) error {
	if len(issues) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO issues(id, published_at, link) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET published_at = excluded.published_at, link = excluded.link`)
		if err != nil {
			return fmt.Errorf("prepare issue insert: %w", err)
		}
		defer stmt.Close()

		for _, is := range issues {
			if _, err := stmt.ExecContext(ctx, is.ID, is.PublishedAt.UTC().Format(DateLayout), is.Link); err != nil {
				return fmt.Errorf("save issue %d: %w", is.ID, err)
			}
		}
		return nil
	})
}

// SaveEntries upserts entries. Their issues must already exist.
func (s *SQLiteStore) SaveEntries(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entries(id, issue_id, title, author, content, main_link, other_links, tag)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				issue_id = excluded.issue_id, title = excluded.title, author = excluded.author,
				content = excluded.content, main_link = excluded.main_link,
				other_links = excluded.other_links, tag = excluded.tag`)
		if err != nil {
			return fmt.Errorf("prepare entry insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			links, err := json.Marshal(e.OtherLinks)
			if err != nil {
				return fmt.Errorf("encode links for entry %d: %w", e.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, int64(e.ID), e.IssueID, e.Title,
				nullString(e.Author), nullString(e.Content), e.MainLink, string(links), nullString(e.Tag)); err != nil {
				return fmt.Errorf("save entry %d: %w", e.ID, err)
			}
		}
		return nil
	})
}

// ListEntries returns every entry ordered by ID.
func (s *SQLiteStore) ListEntries(ctx context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, title, author, content, main_link, other_links, tag
		FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e                            Entry
			id                           int64
			author, content, links, tag sql.NullString
		)
		if err := rows.Scan(&id, &e.IssueID, &e.Title, &author, &content, &e.MainLink, &links, &tag); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID = uint64(id)
		e.Author, e.Content, e.Tag = author.String, content.String, tag.String
		if links.Valid && links.String != "" {
			if err := json.Unmarshal([]byte(links.String), &e.OtherLinks); err != nil {
				return nil, fmt.Errorf("decode links for entry %d: %w", id, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Counts returns the number of issues and entries.
func (s *SQLiteStore) Counts(ctx context.Context) (issues, entries int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM issues), (SELECT COUNT(*) FROM entries)`).Scan(&issues, &entries)
	return issues, entries, err
}

// RegisterEmbeddingSpace creates the space for modelName, or returns the
// existing one if the dimension matches.
func (s *SQLiteStore) RegisterEmbeddingSpace(ctx context.Context, modelName string, dimension int) (*EmbeddingSpace, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}

	existing, err := s.LookupEmbeddingSpace(ctx, modelName)
	switch {
	case err == nil:
		if existing.Dimension != dimension {
			return nil, ErrDimensionMismatch{Expected: existing.Dimension, Got: dimension}
		}
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	norm := NormalizeModelName(modelName)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings_metadata(model_name, normalized_model_name, dimension)
		VALUES (?, ?, ?)`, modelName, norm, dimension)
	if err != nil {
		return nil, fmt.Errorf("register embedding space: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("register embedding space: %w", err)
	}
	return &EmbeddingSpace{ID: id, ModelName: modelName, NormalizedName: norm, Dimension: dimension}, nil
}

// LookupEmbeddingSpace returns ErrNotFound if modelName was never registered.
func (s *SQLiteStore) LookupEmbeddingSpace(ctx context.Context, modelName string) (*EmbeddingSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		sp    EmbeddingSpace
		index sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, normalized_model_name, dimension, index_filename
		FROM embeddings_metadata WHERE model_name = ?`, modelName).
		Scan(&sp.ID, &sp.ModelName, &sp.NormalizedName, &sp.Dimension, &index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding space %q: %w", modelName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup embedding space: %w", err)
	}
	sp.IndexFilename = index.String
	return &sp, nil
}

// SaveEmbeddings upserts vectors for entries in a space.
func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, spaceID int64, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO embeddings(space_id, entry_id, vec) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare embedding insert: %w", err)
		}
		defer stmt.Close()

		for i, id := range ids {
			if _, err := stmt.ExecContext(ctx, spaceID, int64(id), encodeVector(vectors[i])); err != nil {
				return fmt.Errorf("save embedding for entry %d: %w", id, err)
			}
		}
		return nil
	})
}

// SetIndexFilename records the ANN artifact built for a space.
func (s *SQLiteStore) SetIndexFilename(ctx context.Context, spaceID int64, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE embeddings_metadata SET index_filename = ? WHERE id = ?`, nullString(filename), spaceID)
	if err != nil {
		return fmt.Errorf("set index filename: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("embedding space %d: %w", spaceID, ErrNotFound)
	}
	return nil
}

// RetrieveDisplayRecords returns display rows in the order of ids.
// Unknown ids are skipped. limit <= 0 means no limit.
func (s *SQLiteStore) RetrieveDisplayRecords(ctx context.Context, ids []uint64, limit int) ([]*DisplayRecord, error) {
	if len(ids) == 0 {
		return []*DisplayRecord{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	byID := make(map[uint64]*DisplayRecord, len(ids))
	err := forEachIDChunk(ids, func(chunk []uint64) error {
		inClause, args := int64InClause(chunk)
		rows, err := s.db.QueryContext(ctx, `
			SELECT e.id, e.title, COALESCE(e.author, ''), COALESCE(e.content, ''), e.main_link, i.published_at
			FROM entries e JOIN issues i ON i.id = e.issue_id
			WHERE e.id IN (`+inClause+`)`, args...)
		if err != nil {
			return fmt.Errorf("retrieve display records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r  DisplayRecord
				id int64
			)
			if err := rows.Scan(&id, &r.Title, &r.Author, &r.Content, &r.Link, &r.PublishedAt); err != nil {
				return fmt.Errorf("scan display record: %w", err)
			}
			r.ID = uint64(id)
			byID[r.ID] = &r
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]*DisplayRecord, 0, len(byID))
	for _, id := range ids {
		if limit > 0 && len(out) == limit {
			break
		}
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id) // a repeated id is shown once
		}
	}
	return out, nil
}

// RetrieveDocText maps each known id to "title\ncontent".
func (s *SQLiteStore) RetrieveDocText(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	err := forEachIDChunk(ids, func(chunk []uint64) error {
		inClause, args := int64InClause(chunk)
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, title, COALESCE(content, '') FROM entries WHERE id IN (`+inClause+`)`, args...)
		if err != nil {
			return fmt.Errorf("retrieve document text: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id             int64
				title, content string
			)
			if err := rows.Scan(&id, &title, &content); err != nil {
				return fmt.Errorf("scan document text: %w", err)
			}
			out[uint64(id)] = DocText(title, content)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExactSearch scores every vector of the space by cosine similarity and
// returns the k best, ties broken by ascending entry ID.
func (s *SQLiteStore) ExactSearch(ctx context.Context, spaceID int64, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entry_id, vec FROM embeddings WHERE space_id = ?`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
	}
	defer rows.Close()

	results := []*VectorResult{}
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec := decodeVector(raw)
		if len(vec) != len(query) {
			return nil, ErrDimensionMismatch{Expected: len(vec), Got: len(query)}
		}
		sim := float32(cosineSimilarity(query, vec))
		results = append(results, &VectorResult{ID: uint64(id), Score: sim, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// LoadEmbeddings returns every stored vector of a space, for index builds.
func (s *SQLiteStore) LoadEmbeddings(ctx context.Context, spaceID int64) (map[uint64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entry_id, vec FROM embeddings WHERE space_id = ?`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]float32)
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[uint64(id)] = decodeVector(raw)
	}
	return out, rows.Err()
}

// Close closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
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

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodeVector packs a vector as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
