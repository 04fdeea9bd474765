package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pgweekly/pgwsearch/internal/embed"
	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/index"
	"github.com/pgweekly/pgwsearch/internal/output"
	"github.com/pgweekly/pgwsearch/internal/store"
	"github.com/pgweekly/pgwsearch/internal/telemetry"
)

type indexOptions struct {
	catalog     string
	watch       bool
	lexicalOnly bool
	skipANN     bool
	model       string
	metricsAddr string
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Ingest a newsletter catalog and build the search indexes",
		Long: `Load a JSONL catalog of issues and entries into the document store,
build the lexical index and, unless --lexical-only is set, embed every entry
with the configured model and build its HNSW index.

Catalog lines are JSON objects with "type": "issue" or "type": "entry".
Re-running with the same catalog is safe; entries are upserted by id.

With --watch the catalog is re-ingested whenever it changes.`,
		Example: `  pgwsearch index --catalog archive.jsonl
  pgwsearch index --catalog archive.jsonl --lexical-only
  pgwsearch index --catalog archive.jsonl --watch --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.catalog, "catalog", "", "JSONL catalog to ingest (default paths.catalog)")
	f.BoolVar(&opts.watch, "watch", false, "Re-ingest when the catalog changes")
	f.BoolVar(&opts.lexicalOnly, "lexical-only", false, "Skip embeddings; only the lexical searcher will work")
	f.BoolVar(&opts.skipANN, "skip-ann", false, "Store embeddings without building the HNSW index")
	f.StringVar(&opts.model, "model", "", "Embedding model (default embeddings.model)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics while watching, e.g. :9464")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.model != "" {
		cfg.Embeddings.Model = opts.model
	}
	catalog := opts.catalog
	if catalog == "" {
		catalog = cfg.Paths.Catalog
	}
	if catalog == "" {
		return pgerrors.ConfigError("no catalog given", nil).
			WithSuggestion("Pass --catalog <file.jsonl> or set paths.catalog")
	}

	out := output.New(cmd.OutOrStdout())

	lock := index.NewDataDirLock(cfg.Paths.DataDir)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	db, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return pgerrors.New(pgerrors.ErrCodeIndexFailed, "cannot open document store "+cfg.DatabasePath(), err)
	}
	defer func() { _ = db.Close() }()

	lexical, err := createLexical(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lexical.Close() }()

	var embedder embed.Embedder
	if !opts.lexicalOnly {
		embedder, err = newEmbedder(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = embedder.Close() }()
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Store:    db,
		Lexical:  lexical,
		Embedder: embedder,
		Progress: func(ev index.ProgressEvent) { out.Progress(ev.Current, ev.Total, ev.Stage) },
	})
	if err != nil {
		return err
	}
	runCfg := index.RunnerConfig{
		CatalogPath: catalog,
		IndexDir:    cfg.IndexDir(),
		SkipANN:     opts.skipANN,
		BatchSize:   cfg.Embeddings.BatchSize,
		Workers:     cfg.Embeddings.Workers,
	}

	collector := telemetry.NewCollector("")
	res, err := runner.Run(ctx, runCfg)
	collector.ObserveIndexRun(res, err)
	if err != nil {
		return err
	}
	reportIndexRun(out, res)

	if !opts.watch {
		return nil
	}
	return watchCatalog(ctx, out, runner, runCfg, collector, opts.metricsAddr)
}

func watchCatalog(ctx context.Context, out *output.Writer, runner *index.Runner, runCfg index.RunnerConfig,
	collector *telemetry.Collector, metricsAddr string,
) error {
	out.Statusf("", "Watching %s for changes (Ctrl+C to stop)", runCfg.CatalogPath)

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return collector.Serve(gctx, metricsAddr) })
	}
	g.Go(func() error {
		return index.Watch(gctx, runner, runCfg, index.WatchOptions{
			OnRun: func(res *index.RunnerResult, err error) {
				collector.ObserveIndexRun(res, err)
				if err != nil {
					out.Error(pgerrors.FormatForCLI(err))
					return
				}
				reportIndexRun(out, res)
			},
		})
	})
	return g.Wait()
}

func reportIndexRun(out *output.Writer, res *index.RunnerResult) {
	out.Successf("Indexed %d entries from %d issues in %s", res.Entries, res.Issues, res.Duration.Round(time.Millisecond))
	if res.Space != nil {
		out.Statusf("", "Embedded %d entries with %s (%d dimensions)", res.Embedded, res.Space.ModelName, res.Space.Dimension)
	}
	if res.Artifact != "" {
		out.Statusf("", "HNSW index: %s", res.Artifact)
	}
}
