package searcher

import (
	"context"
	"log/slog"

	"github.com/pgweekly/pgwsearch/internal/store"
)

// LexicalIndex is the full-text ranking function a LexicalSearcher wraps.
// store.BM25Index satisfies it.
type LexicalIndex interface {
	// Search returns every document matching at least one query term.
	// limit <= 0 means uncapped.
	Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
}

// LexicalSearcher ranks documents by BM25 score.
//
// Results carry MetricScore and are unsorted; documents matching no query
// term are absent. Without WithMaxCount every match is returned.
type LexicalSearcher struct {
	index    LexicalIndex
	maxCount int
}

var _ Searcher = (*LexicalSearcher)(nil)

// LexicalOption configures a LexicalSearcher.
type LexicalOption func(*LexicalSearcher)

// WithMaxCount caps the number of results. n <= 0 means uncapped.
func WithMaxCount(n int) LexicalOption {
	return func(s *LexicalSearcher) {
		s.maxCount = n
	}
}

// NewLexicalSearcher wraps index.
func NewLexicalSearcher(index LexicalIndex, opts ...LexicalOption) *LexicalSearcher {
	s := &LexicalSearcher{index: index}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the query against the lexical index.
func (s *LexicalSearcher) Search(ctx context.Context, query string) (SearchResult, error) {
	if err := validateQuery(query); err != nil {
		return SearchResult{}, err
	}

	hits, err := s.index.Search(ctx, query, s.maxCount)
	if err != nil {
		return SearchResult{}, backendError("lexical index", err)
	}

	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, Candidate{ID: h.DocID, Value: h.Score})
	}

	slog.Debug("lexical_search_complete",
		slog.Int("matches", len(cands)),
		slog.Int("max_count", s.maxCount))
	return NewSearchResult(cands, MetricScore, false), nil
}
