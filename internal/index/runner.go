// Package index ingests a newsletter catalog into the search stores: the
// document store, the lexical index and, when an embedder is configured,
// the embedding table and its HNSW artifact.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pgweekly/pgwsearch/internal/embed"
	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/store"
)

// Ingestion stages reported through ProgressFunc.
const (
	StageCatalog = "catalog"
	StageStore   = "store"
	StageLexical = "lexical"
	StageEmbed   = "embed"
	StageANN     = "ann"
)

// ANNExtension is the file extension of HNSW artifacts.
const ANNExtension = ".hnsw"

// ProgressEvent reports how far a stage has got.
type ProgressEvent struct {
	Stage   string
	Current int
	Total   int
}

// ProgressFunc receives progress events. It may be called from worker
// goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// RunnerConfig configures one ingestion run.
type RunnerConfig struct {
	// CatalogPath is the JSONL catalog to ingest.
	CatalogPath string

	// IndexDir receives the lexical index base path and ANN artifacts.
	IndexDir string

	// SkipANN stores embeddings without building the HNSW artifact.
	SkipANN bool

	// BatchSize is the number of documents per embedding request (default 32).
	BatchSize int

	// Workers bounds concurrent embedding requests (default NumCPU).
	Workers int
}

// RunnerResult contains the outcome of an ingestion run.
type RunnerResult struct {
	Issues   int
	Entries  int
	Embedded int

	// Space is the embedding space written, nil without an embedder.
	Space *store.EmbeddingSpace

	// Artifact is the HNSW file written, empty when none was built.
	Artifact string

	Duration time.Duration
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Store receives issues, entries and embeddings (required).
	Store store.CatalogWriter

	// Lexical is the BM25 index to fill (required).
	Lexical store.BM25Index

	// Embedder generates document vectors. Nil skips the vector stages.
	Embedder embed.Embedder

	// Progress is optional.
	Progress ProgressFunc
}

// Runner executes ingestion runs. A Runner may be reused for repeated runs
// (watch mode) but runs must not overlap.
type Runner struct {
	store    store.CatalogWriter
	lexical  store.BM25Index
	embedder embed.Embedder
	progress ProgressFunc
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Lexical == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	progress := deps.Progress
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	return &Runner{
		store:    deps.Store,
		lexical:  deps.Lexical,
		embedder: deps.Embedder,
		progress: progress,
	}, nil
}

type stageTiming struct {
	catalog time.Duration
	store   time.Duration
	lexical time.Duration
	embed   time.Duration
	ann     time.Duration
}

// Run ingests cfg.CatalogPath. Issues are saved before entries so entry rows
// always reference an existing issue; the lexical index and the embeddings
// are then written in parallel.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	var timing stageTiming

	slog.Info("index_started", slog.String("catalog", cfg.CatalogPath))

	catalogStart := time.Now()
	cat, err := ReadCatalogFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	timing.catalog = time.Since(catalogStart)
	r.progress(ProgressEvent{Stage: StageCatalog, Current: len(cat.Entries), Total: len(cat.Entries)})

	result, err := r.ingest(ctx, cat, cfg, &timing)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(startTime)

	attrs := []any{
		slog.Int("issues", result.Issues),
		slog.Int("entries", result.Entries),
		slog.Int("embedded", result.Embedded),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_catalog_ms", timing.catalog.Milliseconds()),
		slog.Int64("duration_store_ms", timing.store.Milliseconds()),
		slog.Int64("duration_lexical_ms", timing.lexical.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_ann_ms", timing.ann.Milliseconds()),
		slog.String("catalog", cfg.CatalogPath),
	}
	if result.Space != nil {
		attrs = append(attrs,
			slog.String("embedder_model", result.Space.ModelName),
			slog.Int("embedder_dimensions", result.Space.Dimension),
			slog.String("artifact", result.Artifact))
	}
	slog.Info("index_complete", attrs...)

	return result, nil
}

// Ingest writes an already parsed catalog.
func (r *Runner) Ingest(ctx context.Context, cat *Catalog, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	var timing stageTiming
	result, err := r.ingest(ctx, cat, cfg, &timing)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(startTime)
	return result, nil
}

func (r *Runner) ingest(ctx context.Context, cat *Catalog, cfg RunnerConfig, timing *stageTiming) (*RunnerResult, error) {
	result := &RunnerResult{Issues: len(cat.Issues), Entries: len(cat.Entries)}

	storeStart := time.Now()
	if err := r.store.SaveIssues(ctx, cat.Issues); err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to save issues", err)
	}
	if err := r.store.SaveEntries(ctx, cat.Entries); err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to save entries", err)
	}
	timing.store = time.Since(storeStart)
	r.progress(ProgressEvent{Stage: StageStore, Current: len(cat.Entries), Total: len(cat.Entries)})

	if len(cat.Entries) == 0 {
		slog.Warn("index_empty_catalog", slog.Int("issues", len(cat.Issues)))
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		err := r.buildLexical(gctx, cat.Entries, cfg.IndexDir)
		timing.lexical = time.Since(start)
		return err
	})
	if r.embedder != nil {
		g.Go(func() error {
			start := time.Now()
			space, ids, vectors, err := r.generateEmbeddings(gctx, cat.Entries, cfg)
			timing.embed = time.Since(start)
			if err != nil {
				return err
			}
			result.Space = space
			result.Embedded = len(ids)

			if cfg.SkipANN {
				return nil
			}
			start = time.Now()
			artifact, err := r.buildANN(gctx, space, ids, vectors, cfg.IndexDir)
			timing.ann = time.Since(start)
			result.Artifact = artifact
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Runner) buildLexical(ctx context.Context, entries []*store.Entry, indexDir string) error {
	docs := make([]*store.Document, len(entries))
	for i, e := range entries {
		docs[i] = &store.Document{ID: e.ID, Content: e.Text()}
	}
	if err := r.lexical.Index(ctx, docs); err != nil {
		return pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to build lexical index", err)
	}
	if err := r.lexical.Save(filepath.Join(indexDir, "bm25")); err != nil {
		return pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to save lexical index", err)
	}
	r.progress(ProgressEvent{Stage: StageLexical, Current: len(docs), Total: len(docs)})
	return nil
}

// generateEmbeddings embeds every entry in batches on a bounded worker pool
// and stores the vectors under the embedder's space. ids and vectors come
// back in entry order.
func (r *Runner) generateEmbeddings(ctx context.Context, entries []*store.Entry, cfg RunnerConfig) (*store.EmbeddingSpace, []uint64, [][]float32, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	dims := r.embedder.Dimensions()
	space, err := r.store.RegisterEmbeddingSpace(ctx, r.embedder.ModelName(), dims)
	if err != nil {
		return nil, nil, nil, pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to register embedding space", err).
			WithSuggestion("A model name must keep its dimension; delete the data directory to re-index from scratch")
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, nil, nil, pgerrors.InternalError("failed to create embedding pool", err)
	}
	defer pool.Release()

	ids := make([]uint64, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		texts[i] = e.Text()
	}
	vectors := make([][]float32, len(entries))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			batch, err := r.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				fail(fmt.Errorf("embed batch %d-%d: %w", start, end, err))
				return
			}
			if len(batch) != end-start {
				fail(pgerrors.Newf(pgerrors.ErrCodeEmbeddingFailed,
					"embedder returned %d vectors for %d documents", len(batch), end-start))
				return
			}
			for i, v := range batch {
				if len(v) != dims {
					fail(store.ErrDimensionMismatch{Expected: dims, Got: len(v)})
					return
				}
				vectors[start+i] = v
			}
			if err := r.store.SaveEmbeddings(ctx, space.ID, ids[start:end], batch); err != nil {
				fail(pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to save embeddings", err))
				return
			}

			mu.Lock()
			done += end - start
			current := done
			mu.Unlock()
			r.progress(ProgressEvent{Stage: StageEmbed, Current: current, Total: len(entries)})
		})
		if submitErr != nil {
			wg.Done()
			fail(pgerrors.InternalError("failed to schedule embedding batch", submitErr))
			break
		}
	}
	wg.Wait()

	// A batch may observe the parent's cancellation only after its own
	// EmbedBatch or save call succeeded, leaving firstErr unset.
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		slog.Error("index_embedding_failed",
			slog.String("model", space.ModelName),
			slog.Int("embedded", done),
			slog.Int("total", len(entries)),
			slog.String("error", firstErr.Error()))
		return nil, nil, nil, firstErr
	}
	return space, ids, vectors, nil
}

// buildANN writes <IndexDir>/<normalized model>.hnsw and registers it on
// the space. The registered name is relative to IndexDir.
func (r *Runner) buildANN(ctx context.Context, space *store.EmbeddingSpace, ids []uint64, vectors [][]float32, indexDir string) (string, error) {
	idx, err := store.NewHNSWIndex(store.DefaultHNSWConfig(space.Dimension))
	if err != nil {
		return "", pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to create ANN index", err)
	}
	defer idx.Close()

	if err := idx.Add(ctx, ids, vectors); err != nil {
		return "", pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to fill ANN index", err)
	}

	filename := space.NormalizedName + ANNExtension
	path := filepath.Join(indexDir, filename)
	if err := idx.Save(path); err != nil {
		return "", pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to save ANN index", err)
	}
	if err := r.store.SetIndexFilename(ctx, space.ID, filename); err != nil {
		return "", pgerrors.New(pgerrors.ErrCodeIndexFailed, "failed to register ANN index", err)
	}
	r.progress(ProgressEvent{Stage: StageANN, Current: idx.Count(), Total: len(ids)})

	slog.Debug("index_ann_saved",
		slog.String("path", path),
		slog.Int("vectors", idx.Count()))
	return path, nil
}
