package searcher

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// Reranker rescores a fused candidate set with a query-document relevance
// model. The output is MetricScore and holds only candidates that were
// scored; candidates without document text are dropped and reported through
// SearchResult.Warning.
type Reranker interface {
	Rerank(ctx context.Context, query string, result SearchResult) (SearchResult, error)
}

// DocumentSource resolves candidate ids to document text. Unknown ids are
// absent from the returned map.
type DocumentSource interface {
	RetrieveDocText(ctx context.Context, ids []uint64) (map[uint64]string, error)
}

// Pair is one query-document input to a RelevanceModel.
type Pair struct {
	Query    string
	Document string
}

// RelevanceModel scores query-document pairs independently. Scores are
// returned in input order.
type RelevanceModel interface {
	ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error)
}

// Ranked is one entry of a RankingModel response. Index points into the
// documents passed to Rank.
type Ranked struct {
	Index int
	Score float64
}

// RankingModel ranks documents against a query and returns them best
// first, at most topK of them when topK > 0.
type RankingModel interface {
	Rank(ctx context.Context, query string, docs []string, topK int) ([]Ranked, error)
}

// Default CrossEncoderReranker settings.
const (
	DefaultRerankBatchSize   = 32
	DefaultRerankConcurrency = 4
)

// resolved is the document text for a candidate set, in candidate order.
type resolved struct {
	ids     []uint64
	texts   []string
	missing []uint64
}

func resolveDocuments(ctx context.Context, docs DocumentSource, result SearchResult) (resolved, error) {
	ids := uniqueIDs(result)
	textByID, err := docs.RetrieveDocText(ctx, ids)
	if err != nil {
		return resolved{}, backendError("document store", err)
	}

	var r resolved
	for _, id := range ids {
		text, ok := textByID[id]
		if !ok {
			r.missing = append(r.missing, id)
			continue
		}
		r.ids = append(r.ids, id)
		r.texts = append(r.texts, text)
	}
	return r, nil
}

func uniqueIDs(result SearchResult) []uint64 {
	seen := make(map[uint64]struct{}, result.Len())
	ids := make([]uint64, 0, result.Len())
	for _, c := range result.candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	return ids
}

func finish(out SearchResult, missing []uint64, reranker string) SearchResult {
	if len(missing) == 0 {
		return out
	}
	slog.Warn("rerank_partial_failure",
		slog.String("reranker", reranker),
		slog.Int("missing", len(missing)),
		slog.Any("ids", missing))
	return out.withWarning(&PartialRerankFailure{Missing: missing})
}

// CrossEncoderReranker scores every (query, document) pair with a
// RelevanceModel. Pairs are sent in batches, several batches at a time, and
// results are reassembled by candidate position. The output is unsorted.
type CrossEncoderReranker struct {
	docs        DocumentSource
	model       RelevanceModel
	batchSize   int
	concurrency int
}

var _ Reranker = (*CrossEncoderReranker)(nil)

// CrossEncoderOption configures a CrossEncoderReranker.
type CrossEncoderOption func(*CrossEncoderReranker)

// WithBatchSize sets the number of pairs per model call.
func WithBatchSize(n int) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithConcurrency sets the number of batches scored at once.
func WithConcurrency(n int) CrossEncoderOption {
	return func(r *CrossEncoderReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewCrossEncoderReranker creates a pairwise reranker.
func NewCrossEncoderReranker(docs DocumentSource, model RelevanceModel, opts ...CrossEncoderOption) *CrossEncoderReranker {
	r := &CrossEncoderReranker{
		docs:        docs,
		model:       model,
		batchSize:   DefaultRerankBatchSize,
		concurrency: DefaultRerankConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores result's candidates against query.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, result SearchResult) (SearchResult, error) {
	if result.Len() == 0 {
		return NewSearchResult(nil, MetricScore, false), nil
	}

	docs, err := resolveDocuments(ctx, r.docs, result)
	if err != nil {
		return SearchResult{}, err
	}

	scores := make([]float64, len(docs.ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for start := 0; start < len(docs.texts); start += r.batchSize {
		end := min(start+r.batchSize, len(docs.texts))
		g.Go(func() error {
			pairs := make([]Pair, 0, end-start)
			for _, text := range docs.texts[start:end] {
				pairs = append(pairs, Pair{Query: query, Document: text})
			}
			got, err := r.model.ScorePairs(gctx, pairs)
			if err != nil {
				return err
			}
			if len(got) != len(pairs) {
				return pgerrors.New(pgerrors.ErrCodeRerankFailed,
					fmt.Sprintf("relevance model returned %d scores for %d pairs", len(got), len(pairs)), nil)
			}
			copy(scores[start:end], got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, backendError("relevance model", err)
	}

	cands := make([]Candidate, len(docs.ids))
	for i, id := range docs.ids {
		cands[i] = Candidate{ID: id, Value: scores[i]}
	}
	return finish(NewSearchResult(cands, MetricScore, false), docs.missing, "cross-encoder"), nil
}

// LateInteractionReranker delegates ranking to a RankingModel that returns
// documents best first, such as a ColBERT-style server. The output is
// sorted and holds at most topK candidates when topK > 0.
type LateInteractionReranker struct {
	docs  DocumentSource
	model RankingModel
	topK  int
}

var _ Reranker = (*LateInteractionReranker)(nil)

// NewLateInteractionReranker creates a backend-sorted reranker.
func NewLateInteractionReranker(docs DocumentSource, model RankingModel, topK int) *LateInteractionReranker {
	return &LateInteractionReranker{docs: docs, model: model, topK: topK}
}

// Rerank ranks result's candidates against query.
func (r *LateInteractionReranker) Rerank(ctx context.Context, query string, result SearchResult) (SearchResult, error) {
	if result.Len() == 0 {
		return NewSearchResult(nil, MetricScore, true), nil
	}

	docs, err := resolveDocuments(ctx, r.docs, result)
	if err != nil {
		return SearchResult{}, err
	}
	if len(docs.texts) == 0 {
		return finish(NewSearchResult(nil, MetricScore, true), docs.missing, "late-interaction"), nil
	}

	ranked, err := r.model.Rank(ctx, query, docs.texts, r.topK)
	if err != nil {
		return SearchResult{}, backendError("ranking model", err)
	}

	cands := make([]Candidate, 0, len(ranked))
	for _, rk := range ranked {
		if rk.Index < 0 || rk.Index >= len(docs.ids) {
			return SearchResult{}, pgerrors.New(pgerrors.ErrCodeRerankFailed,
				fmt.Sprintf("ranking model returned index %d for %d documents", rk.Index, len(docs.ids)), nil)
		}
		cands = append(cands, Candidate{ID: docs.ids[rk.Index], Value: rk.Score})
	}
	if r.topK > 0 && len(cands) > r.topK {
		cands = cands[:r.topK]
	}
	return finish(NewSearchResult(cands, MetricScore, true), docs.missing, "late-interaction"), nil
}
