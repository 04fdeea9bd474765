package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

// Registered analysis components. The stop filter type is instantiated per
// index with that index's stop word list, which is persisted in the mapping.
const (
	ProseTokenizerName  = "pgw_prose_tokenizer"
	proseStopFilterType = "pgw_prose_stop"
	proseStopFilterName = "pgw_entry_stop"
	ProseAnalyzerName   = "pgw_prose_analyzer"

	contentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(ProseTokenizerName, func(map[string]any, *registry.Cache) (analysis.Tokenizer, error) {
		return proseTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(proseStopFilterType, newProseStopFilter)
}

// BleveBM25Index is the Bleve backend of BM25Index. Bleve holds an exclusive
// file lock, so only one process can have the index open.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type bleveEntry struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens the index directory at path, creating it when
// absent. A directory that fails to open as an index is cleared and
// recreated empty; the next index run refills it. An empty path gives an
// in-memory index.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	m, err := newEntryMapping(config.StopWords)
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = openOrRecreate(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &BleveBM25Index{index: idx, path: path}, nil
}

func openOrRecreate(path string, m mapping.IndexMapping) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if err := checkIndexMeta(path); err == nil {
		idx, err := bleve.Open(path)
		if err == nil {
			return idx, nil
		}
		if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			slog.Warn("bm25_index_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("bm25_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("clear index at %s: %w", path, err)
	}
	return bleve.New(path, m)
}

// checkIndexMeta returns an os.ErrNotExist error when there is no index
// at path, and another error when index_meta.json is missing or unparsable.
func checkIndexMeta(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json corrupt: %v", err)
	}
	return nil
}

// newEntryMapping analyzes the content field with the prose tokenizer,
// lowercasing and the given stop words, and keeps term locations so hits
// report matched terms.
func newEntryMapping(stopWords []string) (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()

	words := make([]any, len(stopWords))
	for i, w := range stopWords {
		words[i] = w
	}
	if err := m.AddCustomTokenFilter(proseStopFilterName, map[string]any{
		"type":       proseStopFilterType,
		"stop_words": words,
	}); err != nil {
		return nil, err
	}
	if err := m.AddCustomAnalyzer(ProseAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     ProseTokenizerName,
		"token_filters": []any{lowercase.Name, proseStopFilterName},
	}); err != nil {
		return nil, err
	}

	content := bleve.NewTextFieldMapping()
	content.Analyzer = ProseAnalyzerName
	content.Store = false
	content.IncludeTermVectors = true

	entry := bleve.NewDocumentStaticMapping()
	entry.AddFieldMappingsAt(contentField, content)

	m.DefaultMapping = entry
	m.DefaultAnalyzer = ProseAnalyzerName
	return m, nil
}

func (b *BleveBM25Index) usable() error {
	if b.closed {
		return errors.New("index is closed")
	}
	return nil
}

// Index adds or replaces documents in one batch.
func (b *BleveBM25Index) Index(_ context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(docKey(doc.ID), bleveEntry{Content: doc.Content}); err != nil {
			return fmt.Errorf("index entry %d: %w", doc.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search returns every entry matching at least one analyzed query term.
// limit <= 0 returns all matches.
func (b *BleveBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.usable(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return []*BM25Result{}, nil
	}

	if limit <= 0 {
		n, err := b.index.DocCount()
		if err != nil {
			return nil, fmt.Errorf("count documents: %w", err)
		}
		if n == 0 {
			return []*BM25Result{}, nil
		}
		limit = int(n)
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]*BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			slog.Warn("bm25_bad_doc_id", slog.String("id", hit.ID))
			continue
		}
		out = append(out, &BM25Result{DocID: id, Score: hit.Score, MatchedTerms: matchedTerms(hit)})
	}
	return out, nil
}

// Delete removes entries from the index.
func (b *BleveBM25Index) Delete(_ context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(docKey(id))
	}
	return b.index.Batch(batch)
}

// AllIDs returns the ids of all indexed entries.
func (b *BleveBM25Index) AllIDs() ([]uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.usable(); err != nil {
		return nil, err
	}

	n, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	res, err := b.index.Search(bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	ids := make([]uint64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if id, err := strconv.ParseUint(hit.ID, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Stats reports the document count; term statistics are not exposed.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &IndexStats{}
	}
	n, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(n)}
}

// Save is a no-op: a disk index persists every batch.
func (b *BleveBM25Index) Save(string) error { return nil }

// Load replaces the open index with the one at path.
func (b *BleveBM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("open bleve index: %w", err)
	}
	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}
	b.index, b.path, b.closed = idx, path, false
	return nil
}

// Close releases the index and its file lock. It is idempotent.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index == nil {
		return nil
	}
	return b.index.Close()
}

var _ BM25Index = (*BleveBM25Index)(nil)

func matchedTerms(hit *search.DocumentMatch) []string {
	locs := hit.Locations[contentField]
	terms := make([]string, 0, len(locs))
	for term := range locs {
		terms = append(terms, term)
	}
	return terms
}

func docKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// proseTokenizer feeds Tokenize output to Bleve. Each token's span is the
// next occurrence of its text; parts split from an identifier keep the
// identifier's position in the input.
type proseTokenizer struct{}

func (proseTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		start := offset
		if j := strings.Index(lower[offset:], tok); j >= 0 {
			start += j
		}
		end := min(start+len(tok), len(text))
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		if !strings.Contains(tok, "_") {
			offset = end
		}
	}
	return stream
}

type proseStopFilter map[string]struct{}

// newProseStopFilter reads "stop_words" from the filter config. The list
// arrives as []string when built in memory and []any after a reload.
func newProseStopFilter(config map[string]any, _ *registry.Cache) (analysis.TokenFilter, error) {
	var words []string
	switch v := config["stop_words"].(type) {
	case []string:
		words = v
	case []any:
		for _, w := range v {
			s, ok := w.(string)
			if !ok {
				return nil, fmt.Errorf("stop word %v is not a string", w)
			}
			words = append(words, s)
		}
	}
	return proseStopFilter(BuildStopWordMap(words)), nil
}

func (f proseStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, stop := f[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
