package cmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgweekly/pgwsearch/internal/config"
	"github.com/pgweekly/pgwsearch/internal/output"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// searchOptions holds CLI flags for search. Unset flags keep the
// configured value.
type searchOptions struct {
	searchers []string
	fusion    string
	rrfK      int
	rerank    string
	limit     int
	useIndex  bool
	model     string
	format    string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the indexed newsletter archive",
		Long: `Search the indexed archive with the configured pipeline.

Searchers run in parallel. Two or more need a fusion method; rrf combines
ranks with 1/(k+rank), chain concatenates results in searcher order. A
reranker, when set, rescores the fused candidates.`,
		Example: `  pgwsearch search logical replication
  pgwsearch search --searcher lexical --searcher vector --fusion rrf "vacuum tuning"
  pgwsearch search --searcher vector --use-index --rerank cross-encoder -n 5 pgvector
  pgwsearch search --format json partitioning`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.searchers, "searcher", nil, "Searcher to run: lexical, vector, null (repeatable)")
	f.StringVar(&opts.fusion, "fusion", "", "Fusion method: none, chain, rrf")
	f.IntVar(&opts.rrfK, "rrf-k", 0, "RRF constant k")
	f.StringVar(&opts.rerank, "rerank", "", "Reranker: none, cross-encoder, late-interaction, overlap")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default search.max_results)")
	f.BoolVar(&opts.useIndex, "use-index", false, "Search the HNSW index instead of scanning all vectors")
	f.StringVar(&opts.model, "model", "", "Embedding model for the vector searcher")
	f.StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

// applySearchFlags overlays explicitly set flags on cfg and revalidates.
func applySearchFlags(cmd *cobra.Command, cfg *config.Config, opts searchOptions) error {
	f := cmd.Flags()
	if f.Changed("searcher") {
		cfg.Search.Searchers = make([]string, 0, len(opts.searchers))
		for _, s := range opts.searchers {
			cfg.Search.Searchers = append(cfg.Search.Searchers, strings.ToLower(strings.TrimSpace(s)))
		}
		// One searcher never fuses. Several keep the configured method,
		// which fails validation if it is none.
		if !f.Changed("fusion") && len(cfg.Search.Searchers) == 1 {
			cfg.Search.Fusion = config.FusionNone
		}
	}
	if f.Changed("fusion") {
		cfg.Search.Fusion = strings.ToLower(opts.fusion)
	}
	if f.Changed("rrf-k") {
		cfg.Search.RRFConstant = opts.rrfK
	}
	if f.Changed("rerank") {
		cfg.Search.Reranker = strings.ToLower(opts.rerank)
	}
	if f.Changed("limit") {
		cfg.Search.MaxResults = opts.limit
	}
	if f.Changed("use-index") {
		cfg.Embeddings.UseIndex = opts.useIndex
	}
	if f.Changed("model") {
		cfg.Embeddings.Model = opts.model
	}
	return cfg.Validate()
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySearchFlags(cmd, cfg, opts); err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	start := time.Now()
	slog.Info("search_started", slog.String("query", query), slog.Int("limit", cfg.Search.MaxResults))
	result, err := rt.pipeline.Search(ctx, query)
	if err != nil {
		return err
	}
	records, err := searcher.Materialize(ctx, rt.db, result, cfg.Search.MaxResults)
	if err != nil {
		return err
	}
	slog.Info("search_complete",
		slog.Int("results", len(records)),
		slog.String("metric", result.Metric().String()),
		slog.Duration("duration", time.Since(start)))

	rs := output.ResultSet{Query: query, Metric: result.Metric().String(), Records: records}
	if w := result.Warning(); w != nil {
		rs.Warning = w.Error()
	}
	if format == output.FormatJSON {
		return output.WriteJSON(cmd.OutOrStdout(), rs)
	}
	output.New(cmd.OutOrStdout()).Results(rs)
	return nil
}
