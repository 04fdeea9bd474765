package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// Pipeline stage names reported to an Observer.
const (
	StageSearch   = "search"
	StageFusion   = "fusion"
	StageRerank   = "rerank"
	StagePipeline = "pipeline"
)

// Observer receives per-stage timings. Implementations must be safe for
// concurrent use; searcher stages report from their own goroutines.
type Observer interface {
	// ObserveStage reports a finished stage with its output size.
	ObserveStage(stage string, d time.Duration, n int, err error)
	// ObservePartialRerank reports candidates dropped by a reranker.
	ObservePartialRerank(missing int)
}

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) ObserveStage(string, time.Duration, int, error) {}
func (NopObserver) ObservePartialRerank(int)                       {}

// PipelineConfig describes a pipeline. Fusion is required with two or more
// searchers and forbidden with exactly one. Reranker and Observer are
// optional.
type PipelineConfig struct {
	Searchers []Searcher
	Fusion    FusionMethod
	Reranker  Reranker
	Observer  Observer
}

// Validate checks the composition rules without building anything.
func (c PipelineConfig) Validate() error {
	switch n := len(c.Searchers); {
	case n == 0:
		return pgerrors.New(pgerrors.ErrCodeNoSearchers, "no searchers configured", nil).
			WithSuggestion("Configure at least one searcher (lexical, vector or null)")
	case n == 1 && c.Fusion != nil:
		return pgerrors.New(pgerrors.ErrCodeRedundantFusionMethod,
			"a fusion method was given but there is only one searcher", nil).
			WithSuggestion("Remove the fusion method or add another searcher")
	case n > 1 && c.Fusion == nil:
		return pgerrors.Newf(pgerrors.ErrCodeNoFusionMethod,
			"%d searchers require a fusion method", n).
			WithSuggestion("Use --fusion rrf or --fusion chain")
	}
	for i, s := range c.Searchers {
		if s == nil {
			return pgerrors.New(pgerrors.ErrCodeConfigInvalid, fmt.Sprintf("searcher %d is nil", i), nil)
		}
	}
	return nil
}

// Pipeline runs searchers in parallel, fuses their results and applies the
// optional reranker last. It holds no per-query state and is safe for
// concurrent use.
type Pipeline struct {
	searchers []Searcher
	fusion    FusionMethod
	reranker  Reranker
	observer  Observer
}

// NewPipeline validates cfg and builds the pipeline. All composition errors
// surface here rather than at query time.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	searchers := make([]Searcher, len(cfg.Searchers))
	copy(searchers, cfg.Searchers)
	return &Pipeline{
		searchers: searchers,
		fusion:    cfg.Fusion,
		reranker:  cfg.Reranker,
		observer:  obs,
	}, nil
}

// Func returns the pipeline as a SearchFunc.
func (p *Pipeline) Func() SearchFunc {
	return p.Search
}

// Search runs the query through every stage. Any searcher failure fails
// the query; substitute a NullSearcher for sources allowed to be missing.
// Zero final candidates is a valid result.
func (p *Pipeline) Search(ctx context.Context, query string) (SearchResult, error) {
	start := time.Now()
	result, err := p.search(ctx, query)
	p.observer.ObserveStage(StagePipeline, time.Since(start), result.Len(), err)
	if err != nil {
		slog.Debug("search_failed", slog.Duration("elapsed", time.Since(start)), slog.String("error", err.Error()))
		return SearchResult{}, err
	}
	slog.Debug("search_complete",
		slog.Int("candidates", result.Len()),
		slog.String("metric", result.Metric().String()),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (p *Pipeline) search(ctx context.Context, query string) (SearchResult, error) {
	result, err := p.retrieve(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if p.reranker == nil {
		return result, nil
	}

	start := time.Now()
	reranked, err := p.reranker.Rerank(ctx, query, result)
	p.observer.ObserveStage(StageRerank, time.Since(start), reranked.Len(), err)
	if err != nil {
		return SearchResult{}, err
	}
	if w, ok := reranked.Warning().(*PartialRerankFailure); ok {
		p.observer.ObservePartialRerank(len(w.Missing))
	}
	return reranked, nil
}

// retrieve runs the searchers and fuses their output. A lone searcher's
// result is returned unchanged.
func (p *Pipeline) retrieve(ctx context.Context, query string) (SearchResult, error) {
	if len(p.searchers) == 1 {
		return p.runSearcher(ctx, p.searchers[0], query)
	}

	results := make([]SearchResult, len(p.searchers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range p.searchers {
		g.Go(func() error {
			r, err := p.runSearcher(gctx, s, query)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}

	start := time.Now()
	fused, err := p.fusion.Fuse(results)
	p.observer.ObserveStage(StageFusion, time.Since(start), fused.Len(), err)
	if err != nil {
		return SearchResult{}, err
	}
	slog.Debug("fusion_complete",
		slog.Int("inputs", len(results)),
		slog.Int("candidates", fused.Len()))
	return fused, nil
}

func (p *Pipeline) runSearcher(ctx context.Context, s Searcher, query string) (SearchResult, error) {
	start := time.Now()
	r, err := s.Search(ctx, query)
	p.observer.ObserveStage(StageSearch, time.Since(start), r.Len(), err)
	return r, err
}
