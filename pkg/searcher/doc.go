// Package searcher is the retrieval, fusion and rerank core of pgwsearch.
//
// Every stage speaks [SearchResult]: an immutable set of (id, value)
// candidates tagged with a [RankMetric] that says whether higher values are
// better (MetricScore), lower values are better (MetricDistance), or values
// are not comparable at all (MetricUndefined).
//
// # Components
//
//   - [Searcher]: [NullSearcher], [LexicalSearcher] (BM25) and
//     [VectorSimilaritySearcher] (exact cosine scan or HNSW)
//   - [FusionMethod]: [ChainFusion] (dedupe pool for a reranker) and
//     [ReciprocalRankFusion]
//   - [Reranker]: [CrossEncoderReranker] and [LateInteractionReranker]
//   - [Pipeline]: validated composition of the above
//
// # Composition
//
//	query ─┬─ LexicalSearcher ──────────┐
//	       └─ VectorSimilaritySearcher ─┴─ FusionMethod ── Reranker ── SearchResult
//
// Searchers run concurrently and fusion waits for all of them. A single
// searcher is used directly, without fusion.
//
//	lexical := searcher.NewLexicalSearcher(bm25Index)
//	vector, err := searcher.NewVectorSimilaritySearcher(ctx,
//	    searcher.VectorConfig{ModelName: "BAAI/bge-small-en-v1.5", MaxCount: 50},
//	    db, embedder)
//	if err != nil {
//	    return err
//	}
//	p, err := searcher.NewPipeline(searcher.PipelineConfig{
//	    Searchers: []searcher.Searcher{lexical, vector},
//	    Fusion:    searcher.NewReciprocalRankFusion(60),
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := p.Search(ctx, "logical replication conflicts")
//	records, err := searcher.Materialize(ctx, db, result, 10)
//
// # Thread Safety
//
// Searchers, fusion methods, rerankers and pipelines hold no per-query
// state and are safe for concurrent use.
package searcher
