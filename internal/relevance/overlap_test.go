package relevance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

func TestOverlapModel_ScorePairs(t *testing.T) {
	m := NewOverlapModel()

	scores, err := m.ScorePairs(context.Background(), []searcher.Pair{
		{Query: "logical replication", Document: "Logical replication\nconflicts in PG 17"},
		{Query: "logical replication", Document: "Failover\nlogical slots"},
		{Query: "logical replication", Document: "Autovacuum\ntuning"},
		{Query: "the and of", Document: "the and of"},
	})

	require.NoError(t, err)
	assert.InDelta(t, 1+titleBoost, scores[0], 1e-12, "both terms, both in title")
	assert.InDelta(t, 0.5, scores[1], 1e-12, "one term in body")
	assert.Zero(t, scores[2])
	assert.Zero(t, scores[3], "stop words never match")
}

func TestOverlapModel_Rank(t *testing.T) {
	m := NewOverlapModel()
	docs := []string{"Vacuum\nnothing", "Other\nnothing", "Freeze\nvacuum and freeze", "Vacuum freeze\n"}

	ranked, err := m.Rank(context.Background(), "vacuum freeze", docs, 3)

	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, 3, ranked[0].Index)
	assert.Equal(t, 2, ranked[1].Index)
	assert.Equal(t, 0, ranked[2].Index)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestOverlapModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOverlapModel().ScorePairs(ctx, []searcher.Pair{{Query: "a", Document: "b"}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverlapModel_WithLateInteractionReranker(t *testing.T) {
	docs := mapDocs{10: "Partitioning\nprune partitions", 11: "WAL\narchiving", 12: "Partition pruning\nat runtime"}
	rr := searcher.NewLateInteractionReranker(docs, NewOverlapModel(), 0)
	in := searcher.NewSearchResult([]searcher.Candidate{{ID: 10}, {ID: 11}, {ID: 12}}, searcher.MetricUndefined, false)

	out, err := rr.Rerank(context.Background(), "partition pruning", in)

	require.NoError(t, err)
	assert.True(t, out.Sorted())
	assert.Equal(t, uint64(12), out.IDs()[0])
	assert.Equal(t, uint64(11), out.IDs()[2])
}
