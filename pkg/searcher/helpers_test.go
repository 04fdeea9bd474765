package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgweekly/pgwsearch/internal/embed"
	"github.com/pgweekly/pgwsearch/internal/store"
)

var corpus = []*store.Entry{
	{ID: 1, IssueID: 100, Title: "Logical replication in PostgreSQL 17", Author: "Ana", Content: "Failover slots and logical replication conflicts.", MainLink: "https://example.org/1"},
	{ID: 2, IssueID: 100, Title: "Partition pruning", Content: "How the planner prunes partitions at runtime.", MainLink: "https://example.org/2"},
	{ID: 3, IssueID: 101, Title: "Tuning autovacuum", Author: "Ben", Content: "Autovacuum thresholds for large tables.", MainLink: "https://example.org/3"},
	{ID: 4, IssueID: 101, Title: "Replication slots on standbys", Content: "", MainLink: "https://example.org/4"},
}

// newCorpusStore returns an in-memory store holding corpus, embedded with
// the static embedder under its model name.
func newCorpusStore(t *testing.T) (*store.SQLiteStore, *store.EmbeddingSpace) {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SaveIssues(ctx, []*store.Issue{
		{ID: 100, PublishedAt: time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), Link: "https://example.org/issues/100"},
		{ID: 101, PublishedAt: time.Date(2024, 9, 9, 0, 0, 0, 0, time.UTC), Link: "https://example.org/issues/101"},
	}))
	require.NoError(t, db.SaveEntries(ctx, corpus))

	emb := embed.NewStaticEmbedder()
	space, err := db.RegisterEmbeddingSpace(ctx, emb.ModelName(), emb.Dimensions())
	require.NoError(t, err)

	ids := make([]uint64, len(corpus))
	texts := make([]string, len(corpus))
	for i, e := range corpus {
		ids[i] = e.ID
		texts[i] = e.Text()
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, db.SaveEmbeddings(ctx, space.ID, ids, vecs))
	return db, space
}
