package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/store"
)

// DefaultVectorMaxCount is the number of neighbours retrieved when
// VectorConfig.MaxCount is not set.
const DefaultVectorMaxCount = 50

// SearchMode selects how a VectorSimilaritySearcher finds neighbours.
type SearchMode int

const (
	// ModeExact scans every stored vector and yields cosine similarity
	// (MetricScore, best first).
	ModeExact SearchMode = iota
	// ModeApproximate queries the registered HNSW artifact and yields
	// cosine distance (MetricDistance, best first).
	ModeApproximate
)

func (m SearchMode) String() string {
	if m == ModeApproximate {
		return "approximate"
	}
	return "exact"
}

// VectorConfig configures a VectorSimilaritySearcher.
type VectorConfig struct {
	// ModelName is the registered embedding space to search.
	ModelName string
	// MaxCount is the number of neighbours k. <= 0 selects DefaultVectorMaxCount.
	MaxCount int
	Mode     SearchMode
	// IndexDir holds ANN artifacts; the registered filename is resolved against it.
	IndexDir string
}

// VectorStore is the metadata and exact-scan side of the document store.
type VectorStore interface {
	LookupEmbeddingSpace(ctx context.Context, modelName string) (*store.EmbeddingSpace, error)
	ExactSearch(ctx context.Context, spaceID int64, query []float32, k int) ([]*store.VectorResult, error)
}

// QueryEmbedder embeds a search query into the space's vector space.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexOpener loads the ANN artifact at path for space.
type IndexOpener func(path string, space *store.EmbeddingSpace) (store.ANNIndex, error)

// VectorOption configures a VectorSimilaritySearcher.
type VectorOption func(*vectorOptions)

type vectorOptions struct {
	open IndexOpener
}

// WithIndexOpener replaces the default HNSW loader.
func WithIndexOpener(open IndexOpener) VectorOption {
	return func(o *vectorOptions) {
		o.open = open
	}
}

func openHNSW(path string, space *store.EmbeddingSpace) (store.ANNIndex, error) {
	idx, err := store.LoadHNSWIndex(path)
	if err != nil {
		return nil, err
	}
	if idx.Dimensions() != space.Dimension {
		_ = idx.Close()
		return nil, store.ErrDimensionMismatch{Expected: space.Dimension, Got: idx.Dimensions()}
	}
	return idx, nil
}

// VectorSimilaritySearcher retrieves the k documents nearest to the
// embedded query. The mode is fixed at construction.
type VectorSimilaritySearcher struct {
	db       VectorStore
	embedder QueryEmbedder
	space    *store.EmbeddingSpace
	index    store.ANNIndex
	k        int
	mode     SearchMode
}

var _ Searcher = (*VectorSimilaritySearcher)(nil)

// NewVectorSimilaritySearcher resolves the embedding space for
// cfg.ModelName and, in approximate mode, loads its ANN artifact.
//
// It fails with errors.ErrModelNotFound if the model was never registered
// and with errors.ErrIndexUnavailable if approximate mode is requested but
// no artifact is registered or it cannot be loaded.
func NewVectorSimilaritySearcher(ctx context.Context, cfg VectorConfig, db VectorStore, embedder QueryEmbedder, opts ...VectorOption) (*VectorSimilaritySearcher, error) {
	o := vectorOptions{open: openHNSW}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultVectorMaxCount
	}

	space, err := db.LookupEmbeddingSpace(ctx, cfg.ModelName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pgerrors.New(pgerrors.ErrCodeModelNotFound,
			fmt.Sprintf("embeddings for model %q do not exist", cfg.ModelName), err).
			WithDetail("model", cfg.ModelName).
			WithSuggestion("Run 'pgwsearch index --model " + cfg.ModelName + "' first")
	}
	if err != nil {
		return nil, backendError("metadata store", err)
	}

	if d, ok := embedder.(interface{ Dimensions() int }); ok && d.Dimensions() != space.Dimension {
		return nil, dimensionError(space.Dimension, d.Dimensions())
	}

	s := &VectorSimilaritySearcher{
		db:       db,
		embedder: embedder,
		space:    space,
		k:        cfg.MaxCount,
		mode:     cfg.Mode,
	}

	if cfg.Mode == ModeApproximate {
		if space.IndexFilename == "" {
			return nil, pgerrors.New(pgerrors.ErrCodeIndexUnavailable,
				fmt.Sprintf("no ANN index registered for model %q", cfg.ModelName), nil).
				WithSuggestion("Run 'pgwsearch index' to build it, or search without --use-index")
		}
		path := filepath.Join(cfg.IndexDir, space.IndexFilename)
		idx, err := o.open(path, space)
		if err != nil {
			return nil, pgerrors.New(pgerrors.ErrCodeIndexUnavailable,
				"cannot load ANN index "+path, err).WithDetail("path", path)
		}
		s.index = idx
	}

	slog.Debug("vector_searcher_ready",
		slog.String("model", space.ModelName),
		slog.Int("dimension", space.Dimension),
		slog.String("mode", cfg.Mode.String()),
		slog.Int("k", cfg.MaxCount))
	return s, nil
}

// Space returns the resolved embedding space.
func (s *VectorSimilaritySearcher) Space() store.EmbeddingSpace { return *s.space }

// Mode returns the retrieval mode.
func (s *VectorSimilaritySearcher) Mode() SearchMode { return s.mode }

// Search embeds query and returns its nearest neighbours, best first.
func (s *VectorSimilaritySearcher) Search(ctx context.Context, query string) (SearchResult, error) {
	if err := validateQuery(query); err != nil {
		return SearchResult{}, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if pgerrors.GetCode(err) != "" || ctx.Err() != nil {
			return SearchResult{}, err
		}
		return SearchResult{}, pgerrors.New(pgerrors.ErrCodeInvalidQuery, "cannot embed query", err)
	}
	if len(vec) != s.space.Dimension {
		return SearchResult{}, dimensionError(s.space.Dimension, len(vec))
	}

	if s.index != nil {
		hits, err := s.index.Search(ctx, vec, s.k)
		if err != nil {
			return SearchResult{}, backendError("ANN index", err)
		}
		cands := make([]Candidate, len(hits))
		for i, h := range hits {
			cands[i] = Candidate{ID: h.ID, Value: float64(h.Distance)}
		}
		// Graph traversal order is not distance order.
		sortCandidates(cands, false)
		return NewSearchResult(cands, MetricDistance, true), nil
	}

	hits, err := s.db.ExactSearch(ctx, s.space.ID, vec, s.k)
	if err != nil {
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return SearchResult{}, dimensionError(dm.Expected, dm.Got)
		}
		return SearchResult{}, backendError("vector store", err)
	}
	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{ID: h.ID, Value: float64(h.Score)}
	}
	return NewSearchResult(cands, MetricScore, true), nil
}

// Close releases the ANN index, if any.
func (s *VectorSimilaritySearcher) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

func dimensionError(expected, got int) error {
	return pgerrors.New(pgerrors.ErrCodeDimensionMismatch,
		store.ErrDimensionMismatch{Expected: expected, Got: got}.Error(), nil)
}
