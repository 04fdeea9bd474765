package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgweekly/pgwsearch/internal/config"
	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

func TestSearch_Lexical(t *testing.T) {
	// Given: a lexical-only index
	env := newCLIEnv(t)
	env.index(t, "--lexical-only")

	// When: searching
	got := searchJSON(t, "autovacuum")

	// Then: the matching entry is returned with its issue date
	assert.Equal(t, "score", got.Metric)
	require.Len(t, got.Results, 1)
	assert.Equal(t, uint64(3), got.Results[0].ID)
	assert.Equal(t, "2024-09-09", got.Results[0].PublishedAt)
	assert.Greater(t, got.Results[0].Value, 0.0)
}

func TestSearch_TextOutput(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t, "--lexical-only")

	out, err := run(t, "search", "replication")

	require.NoError(t, err)
	assert.Contains(t, out, `Found 2 results for "replication"`)
	assert.Contains(t, out, "https://example.com/4")
}

func TestSearch_HybridRRF(t *testing.T) {
	// Given: lexical and vector indexes
	env := newCLIEnv(t)
	env.index(t)

	// When: fusing lexical and exact vector search
	got := searchJSON(t, "--searcher", "lexical", "--searcher", "vector", "--fusion", "rrf", "replication")

	// Then: entries found by both searchers rank first
	assert.Equal(t, "score", got.Metric)
	require.Len(t, got.Results, 4)
	assert.ElementsMatch(t, []uint64{1, 4}, got.ids()[:2])
}

func TestSearch_RRFWithNullPlaceholder(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t, "--lexical-only")

	got := searchJSON(t, "--searcher", "null", "--searcher", "lexical", "--fusion", "rrf", "partitions")

	require.Len(t, got.Results, 1)
	assert.Equal(t, uint64(2), got.Results[0].ID)
}

func TestSearch_ApproximateWithOverlapRerank(t *testing.T) {
	// Given: an index with an HNSW artifact
	env := newCLIEnv(t)
	out := env.index(t)
	assert.Contains(t, out, "static-hash-256.hnsw")

	// When: searching the ANN index and reranking locally
	got := searchJSON(t, "--searcher", "vector", "--use-index", "--rerank", "overlap", "-n", "2",
		"autovacuum thresholds")

	// Then: the reranked result is scored and limited
	assert.Equal(t, "score", got.Metric)
	require.Len(t, got.Results, 2)
	assert.Equal(t, uint64(3), got.Results[0].ID)
	assert.Empty(t, got.Warning)
}

func TestSearch_ApproximateDistanceMetric(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	got := searchJSON(t, "--searcher", "vector", "--use-index", "replication slots")

	assert.Equal(t, "distance", got.Metric)
	require.Len(t, got.Results, 4)
	for i := 1; i < len(got.Results); i++ {
		assert.LessOrEqual(t, got.Results[i-1].Value, got.Results[i].Value)
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Run("no index", func(t *testing.T) {
		newCLIEnv(t)

		_, err := run(t, "search", "vacuum")

		assert.Equal(t, pgerrors.ErrCodeIndexUnavailable, pgerrors.GetCode(err))
	})

	t.Run("vector without embeddings", func(t *testing.T) {
		env := newCLIEnv(t)
		env.index(t, "--lexical-only")

		_, err := run(t, "search", "--searcher", "vector", "vacuum")

		assert.Equal(t, pgerrors.ErrCodeModelNotFound, pgerrors.GetCode(err))
	})

	t.Run("approximate without artifact", func(t *testing.T) {
		env := newCLIEnv(t)
		env.index(t, "--skip-ann")

		_, err := run(t, "search", "--searcher", "vector", "--use-index", "vacuum")

		assert.Equal(t, pgerrors.ErrCodeIndexUnavailable, pgerrors.GetCode(err))
	})

	t.Run("missing fusion", func(t *testing.T) {
		env := newCLIEnv(t)
		env.index(t, "--lexical-only")

		_, err := run(t, "search", "--searcher", "lexical", "--searcher", "null", "vacuum")

		assert.Equal(t, pgerrors.ErrCodeNoFusionMethod, pgerrors.GetCode(err))
	})

	t.Run("redundant fusion", func(t *testing.T) {
		env := newCLIEnv(t)
		env.index(t, "--lexical-only")

		_, err := run(t, "search", "--fusion", "chain", "vacuum")

		assert.Equal(t, pgerrors.ErrCodeRedundantFusionMethod, pgerrors.GetCode(err))
	})

	t.Run("bad format", func(t *testing.T) {
		newCLIEnv(t)

		_, err := run(t, "search", "--format", "xml", "vacuum")

		assert.Equal(t, pgerrors.CategoryValidation, pgerrors.GetCategory(err))
	})
}

func TestApplySearchFlags(t *testing.T) {
	// Given: a config that fuses two searchers with RRF
	cfg := config.NewConfig()
	cfg.Search.Searchers = []string{"lexical", "vector"}
	cfg.Search.Fusion = config.FusionRRF
	cmd := newSearchCmd()

	// When: narrowing to one searcher and overriding numbers
	require.NoError(t, cmd.ParseFlags([]string{"--searcher", "Vector", "--use-index", "-n", "3", "--rrf-k", "10"}))
	err := applySearchFlags(cmd, cfg, searchOptions{
		searchers: []string{"Vector"}, useIndex: true, limit: 3, rrfK: 10,
	})

	// Then: fusion is dropped and the overrides apply
	require.NoError(t, err)
	assert.Equal(t, []string{"vector"}, cfg.Search.Searchers)
	assert.Equal(t, config.FusionNone, cfg.Search.Fusion)
	assert.True(t, cfg.Embeddings.UseIndex)
	assert.Equal(t, 3, cfg.Search.MaxResults)
	assert.Equal(t, 10, cfg.Search.RRFConstant)
}

func TestSearch_LexicalBackendMismatch(t *testing.T) {
	// Given: an index built with the default sqlite backend
	env := newCLIEnv(t)
	env.index(t, "--lexical-only")

	// When: searching with bleve configured
	t.Setenv("PGWS_BM25_BACKEND", "bleve")
	_, err := run(t, "search", "vacuum")

	// Then: the index is reported unavailable rather than empty
	var pe *pgerrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pgerrors.ErrCodeIndexUnavailable, pe.Code)
	assert.Contains(t, pe.Suggestion, "bm25_backend: sqlite")
}
