package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pgweekly/pgwsearch/internal/config"
	"github.com/pgweekly/pgwsearch/internal/embed"
	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/relevance"
	"github.com/pgweekly/pgwsearch/internal/store"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// createLexical opens the BM25 index for writing, creating it if needed.
func createLexical(cfg *config.Config) (store.BM25Index, error) {
	base := filepath.Join(cfg.IndexDir(), store.LexicalIndexName)
	idx, err := store.NewBM25IndexWithBackend(base, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexFailed, "cannot open lexical index", err).
			WithDetail("path", base)
	}
	return idx, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return nil, err
	}
	return embed.NewEmbedder(ctx, embed.Options{
		Provider:    provider,
		Model:       cfg.Embeddings.Model,
		OllamaHost:  cfg.Embeddings.OllamaHost,
		BatchSize:   cfg.Embeddings.BatchSize,
		QueryPrefix: cfg.Embeddings.QueryPrefix,
		CacheSize:   cfg.Embeddings.CacheSize,
	})
}

// searchRuntime owns everything a pipeline built from configuration needs.
type searchRuntime struct {
	db       *store.SQLiteStore
	pipeline *searcher.Pipeline
	closers  []func() error
}

// openRuntime builds the configured pipeline over the data directory.
// The store must already exist; searching never creates an empty index.
func openRuntime(ctx context.Context, cfg *config.Config, observer searcher.Observer) (_ *searchRuntime, err error) {
	dbPath := cfg.DatabasePath()
	if _, statErr := os.Stat(dbPath); statErr != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexUnavailable, "no index found at "+dbPath, statErr).
			WithSuggestion("Run 'pgwsearch index --catalog <file.jsonl>' first")
	}

	rt := &searchRuntime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexUnavailable, "cannot open document store", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, db.Close)

	searchers := make([]searcher.Searcher, 0, len(cfg.Search.Searchers))
	for _, name := range cfg.Search.Searchers {
		s, err := rt.newSearcher(ctx, cfg, name)
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, s)
	}

	reranker, err := rt.newReranker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p, err := searcher.NewPipeline(searcher.PipelineConfig{
		Searchers: searchers,
		Fusion:    newFusion(cfg),
		Reranker:  reranker,
		Observer:  observer,
	})
	if err != nil {
		return nil, err
	}
	rt.pipeline = p

	slog.Debug("pipeline_ready",
		slog.Any("searchers", cfg.Search.Searchers),
		slog.String("fusion", cfg.Search.Fusion),
		slog.String("reranker", cfg.Search.Reranker))
	return rt, nil
}

func (rt *searchRuntime) newSearcher(ctx context.Context, cfg *config.Config, name string) (searcher.Searcher, error) {
	switch name {
	case config.SearcherLexical:
		idx, err := store.OpenExistingBM25Index(cfg.IndexDir(), store.DefaultBM25Config(), cfg.Search.BM25Backend)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, idx.Close)
		return searcher.NewLexicalSearcher(idx, searcher.WithMaxCount(cfg.Search.LexicalMaxCount)), nil

	case config.SearcherVector:
		emb, err := newEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, emb.Close)
		mode := searcher.ModeExact
		if cfg.Embeddings.UseIndex {
			mode = searcher.ModeApproximate
		}
		vs, err := searcher.NewVectorSimilaritySearcher(ctx, searcher.VectorConfig{
			ModelName: emb.ModelName(),
			MaxCount:  cfg.Embeddings.MaxCount,
			Mode:      mode,
			IndexDir:  cfg.IndexDir(),
		}, rt.db, emb)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, vs.Close)
		return vs, nil

	case config.SearcherNull:
		return searcher.NullSearcher{}, nil

	default:
		return nil, pgerrors.ConfigError(fmt.Sprintf("unknown searcher %q", name), nil)
	}
}

func newFusion(cfg *config.Config) searcher.FusionMethod {
	switch cfg.Search.Fusion {
	case config.FusionChain:
		return searcher.ChainFusion{}
	case config.FusionRRF:
		return searcher.NewReciprocalRankFusion(cfg.Search.RRFConstant)
	default:
		return nil
	}
}

func (rt *searchRuntime) newReranker(ctx context.Context, cfg *config.Config) (searcher.Reranker, error) {
	rc := cfg.Reranker
	switch cfg.Search.Reranker {
	case config.RerankOverlap:
		return searcher.NewCrossEncoderReranker(rt.db, relevance.NewOverlapModel(),
			searcher.WithBatchSize(rc.BatchSize), searcher.WithConcurrency(rc.Concurrency)), nil

	case config.RerankCrossEncoder, config.RerankLateInteraction:
		client, err := relevance.NewHTTPClient(ctx, relevance.Config{
			Endpoint: rc.Endpoint,
			Model:    rc.Model,
			Timeout:  cfg.RerankTimeout(),
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		if cfg.Search.Reranker == config.RerankLateInteraction {
			return searcher.NewLateInteractionReranker(rt.db, client, rc.TopK), nil
		}
		return searcher.NewCrossEncoderReranker(rt.db, client,
			searcher.WithBatchSize(rc.BatchSize), searcher.WithConcurrency(rc.Concurrency)), nil

	default:
		return nil, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *searchRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
