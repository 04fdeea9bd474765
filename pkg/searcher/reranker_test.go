package searcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

type mapDocs map[uint64]string

func (m mapDocs) RetrieveDocText(_ context.Context, ids []uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, len(ids))
	for _, id := range ids {
		if text, ok := m[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

type failingDocs struct{}

func (failingDocs) RetrieveDocText(context.Context, []uint64) (map[uint64]string, error) {
	return nil, errors.New("database is closed")
}

// lengthModel scores a pair by document length so expectations are easy
// to read off the fixture.
type lengthModel struct {
	mu      sync.Mutex
	batches []int
	err     error
	short   bool
}

func (m *lengthModel) ScorePairs(_ context.Context, pairs []Pair) ([]float64, error) {
	m.mu.Lock()
	m.batches = append(m.batches, len(pairs))
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = float64(len(p.Document))
	}
	if m.short {
		scores = scores[:len(scores)-1]
	}
	return scores, nil
}

// keywordRanker ranks documents containing the query first.
type keywordRanker struct {
	gotTopK int
	bogus   bool
}

func (k *keywordRanker) Rank(_ context.Context, query string, docs []string, topK int) ([]Ranked, error) {
	k.gotTopK = topK
	if k.bogus {
		return []Ranked{{Index: len(docs), Score: 1}}, nil
	}
	var hits, rest []Ranked
	for i, d := range docs {
		if strings.Contains(d, query) {
			hits = append(hits, Ranked{Index: i, Score: 1})
		} else {
			rest = append(rest, Ranked{Index: i, Score: 0})
		}
	}
	return append(hits, rest...), nil
}

var rerankDocs = mapDocs{
	1: "a",
	2: "bbb",
	3: "cc",
	4: "dddd",
	5: "eeeee",
}

func TestCrossEncoderReranker_ScoresEveryCandidate(t *testing.T) {
	// Given: a fused result and a model scoring by document length
	in := NewSearchResult([]Candidate{{ID: 1}, {ID: 2}, {ID: 3}}, MetricUndefined, false)
	r := NewCrossEncoderReranker(rerankDocs, &lengthModel{})

	// When: reranked
	out, err := r.Rerank(context.Background(), "q", in)

	// Then: each candidate carries its model score, unsorted, with no warning
	require.NoError(t, err)
	assert.Equal(t, MetricScore, out.Metric())
	assert.False(t, out.Sorted())
	assert.NoError(t, out.Warning())
	assert.Equal(t, []Candidate{{ID: 1, Value: 1}, {ID: 2, Value: 3}, {ID: 3, Value: 2}}, out.Candidates())
}

func TestCrossEncoderReranker_BatchesKeepPositions(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 5}, {ID: 4}, {ID: 3}, {ID: 2}, {ID: 1}}, MetricUndefined, false)
	model := &lengthModel{}
	r := NewCrossEncoderReranker(rerankDocs, model, WithBatchSize(2), WithConcurrency(3))

	out, err := r.Rerank(context.Background(), "q", in)

	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 2, 1}, model.batches)
	for _, c := range out.Candidates() {
		assert.Equal(t, float64(len(rerankDocs[c.ID])), c.Value, "id %d", c.ID)
	}
	assert.Equal(t, []uint64{5, 4, 3, 2, 1}, out.IDs())
}

func TestCrossEncoderReranker_PartialFailure(t *testing.T) {
	// Given: one candidate whose document text is unavailable
	in := NewSearchResult([]Candidate{{ID: 1}, {ID: 99}, {ID: 3}}, MetricUndefined, false)
	r := NewCrossEncoderReranker(rerankDocs, &lengthModel{})

	// When: reranked
	out, err := r.Rerank(context.Background(), "q", in)

	// Then: the query succeeds with N-1 candidates and a warning naming the gap
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, out.IDs())
	warn := out.Warning()
	require.Error(t, warn)
	assert.ErrorIs(t, warn, pgerrors.ErrPartialRerank)
	var partial *PartialRerankFailure
	require.ErrorAs(t, warn, &partial)
	assert.Equal(t, []uint64{99}, partial.Missing)
}

func TestCrossEncoderReranker_DuplicateIDsScoredOnce(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 2}, {ID: 2}, {ID: 4}}, MetricUndefined, false)
	model := &lengthModel{}

	out, err := NewCrossEncoderReranker(rerankDocs, model).Rerank(context.Background(), "q", in)

	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 4}, out.IDs())
	assert.Equal(t, []int{2}, model.batches)
}

func TestCrossEncoderReranker_Errors(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 1}, {ID: 2}}, MetricUndefined, false)

	t.Run("model unreachable", func(t *testing.T) {
		r := NewCrossEncoderReranker(rerankDocs, &lengthModel{err: errors.New("connection refused")})
		_, err := r.Rerank(context.Background(), "q", in)
		assert.ErrorIs(t, err, pgerrors.ErrBackendUnavailable)
	})

	t.Run("score count mismatch", func(t *testing.T) {
		r := NewCrossEncoderReranker(rerankDocs, &lengthModel{short: true})
		_, err := r.Rerank(context.Background(), "q", in)
		assert.Equal(t, pgerrors.ErrCodeRerankFailed, pgerrors.GetCode(err))
	})

	t.Run("document store failure", func(t *testing.T) {
		r := NewCrossEncoderReranker(failingDocs{}, &lengthModel{})
		_, err := r.Rerank(context.Background(), "q", in)
		assert.ErrorIs(t, err, pgerrors.ErrBackendUnavailable)
	})
}

func TestCrossEncoderReranker_EmptyInput(t *testing.T) {
	model := &lengthModel{}

	out, err := NewCrossEncoderReranker(rerankDocs, model).Rerank(context.Background(), "q", EmptyResult())

	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, MetricScore, out.Metric())
	assert.Empty(t, model.batches)
}

func TestLateInteractionReranker_BackendOrderAndTopK(t *testing.T) {
	// Given: a ranker that puts documents containing "dd" first
	in := NewSearchResult([]Candidate{{ID: 1}, {ID: 2}, {ID: 4}, {ID: 5}}, MetricUndefined, false)
	model := &keywordRanker{}
	r := NewLateInteractionReranker(rerankDocs, model, 2)

	// When: reranked with topK 2
	out, err := r.Rerank(context.Background(), "dd", in)

	// Then: the backend order is kept, truncated, and marked sorted
	require.NoError(t, err)
	assert.Equal(t, 2, model.gotTopK)
	assert.True(t, out.Sorted())
	assert.Equal(t, MetricScore, out.Metric())
	assert.Equal(t, []uint64{4, 1}, out.IDs())
}

func TestLateInteractionReranker_PartialFailure(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 42}, {ID: 3}}, MetricUndefined, false)

	out, err := NewLateInteractionReranker(rerankDocs, &keywordRanker{}, 0).Rerank(context.Background(), "cc", in)

	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, out.IDs())
	assert.ErrorIs(t, out.Warning(), pgerrors.ErrPartialRerank)
}

func TestLateInteractionReranker_AllMissing(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 42}}, MetricUndefined, false)
	model := &keywordRanker{gotTopK: -1}

	out, err := NewLateInteractionReranker(rerankDocs, model, 0).Rerank(context.Background(), "q", in)

	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Error(t, out.Warning())
	assert.Equal(t, -1, model.gotTopK, "model must not be called")
}

func TestLateInteractionReranker_OutOfRangeIndex(t *testing.T) {
	in := NewSearchResult([]Candidate{{ID: 1}}, MetricUndefined, false)

	_, err := NewLateInteractionReranker(rerankDocs, &keywordRanker{bogus: true}, 0).Rerank(context.Background(), "q", in)

	assert.Equal(t, pgerrors.ErrCodeRerankFailed, pgerrors.GetCode(err))
}
