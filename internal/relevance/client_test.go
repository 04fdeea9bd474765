package relevance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// fakeRerankServer scores a document by how many times it contains the
// query and returns results best first.
type fakeRerankServer struct {
	failFirst  int32
	status     int
	dropLast   bool
	calls      atomic.Int32
	mu         sync.Mutex
	requests   []rerankRequest
	healthDown bool
}

func (f *fakeRerankServer) recorded() []rerankRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeRerankServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		if f.healthDown {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))

	case "/rerank":
		n := f.calls.Add(1)
		if n <= f.failFirst {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if f.status != 0 {
			http.Error(w, "rejected", f.status)
			return
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		var resp rerankResponse
		for i, d := range req.Documents {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: float64(strings.Count(d, req.Query))})
		}
		sort.SliceStable(resp.Results, func(i, j int) bool { return resp.Results[i].Score > resp.Results[j].Score })
		if req.TopK > 0 && len(resp.Results) > req.TopK {
			resp.Results = resp.Results[:req.TopK]
		}
		if f.dropLast && len(resp.Results) > 0 {
			resp.Results = resp.Results[:len(resp.Results)-1]
		}
		_ = json.NewEncoder(w).Encode(resp)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeRerankServer) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(context.Background(), Config{Endpoint: srv.URL + "/", Model: "test-reranker"})
	require.NoError(t, err)
	c.retry = pgerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		ShouldRetry:  pgerrors.IsRetryable,
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewHTTPClient_HealthCheck(t *testing.T) {
	t.Run("unhealthy server is a backend error", func(t *testing.T) {
		srv := httptest.NewServer(&fakeRerankServer{healthDown: true})
		defer srv.Close()

		_, err := NewHTTPClient(context.Background(), Config{Endpoint: srv.URL})

		assert.ErrorIs(t, err, pgerrors.ErrBackendUnavailable)
	})

	t.Run("unreachable server", func(t *testing.T) {
		srv := httptest.NewServer(&fakeRerankServer{})
		url := srv.URL
		srv.Close()

		_, err := NewHTTPClient(context.Background(), Config{Endpoint: url})

		assert.ErrorIs(t, err, pgerrors.ErrBackendUnavailable)
	})

	t.Run("skip health check", func(t *testing.T) {
		c, err := NewHTTPClient(context.Background(), Config{Endpoint: "http://127.0.0.1:1", SkipHealthCheck: true})
		require.NoError(t, err)
		assert.NoError(t, c.Close())
	})
}

func TestHTTPClient_Rank(t *testing.T) {
	// Given: a server and three documents with different match counts
	f := &fakeRerankServer{}
	c := newTestClient(t, f)
	docs := []string{"wal", "wal wal wal", "wal wal"}

	// When: ranking with top_k 2
	ranked, err := c.Rank(context.Background(), "wal", docs, 2)

	// Then: the best two come back best first, and the request carried the model
	require.NoError(t, err)
	assert.Equal(t, []searcher.Ranked{{Index: 1, Score: 3}, {Index: 2, Score: 2}}, ranked)
	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-reranker", reqs[0].Model)
	assert.Equal(t, 2, reqs[0].TopK)
}

func TestHTTPClient_RankEmpty(t *testing.T) {
	f := &fakeRerankServer{}
	c := newTestClient(t, f)

	ranked, err := c.Rank(context.Background(), "q", nil, 0)

	require.NoError(t, err)
	assert.Empty(t, ranked)
	assert.Zero(t, f.calls.Load())
}

func TestHTTPClient_ScorePairsInInputOrder(t *testing.T) {
	// Given: pairs for two different queries interleaved
	f := &fakeRerankServer{}
	c := newTestClient(t, f)
	pairs := []searcher.Pair{
		{Query: "vacuum", Document: "vacuum"},
		{Query: "slot", Document: "slot slot"},
		{Query: "vacuum", Document: "vacuum vacuum vacuum"},
		{Query: "vacuum", Document: "nothing here"},
	}

	// When: scored
	scores, err := c.ScorePairs(context.Background(), pairs)

	// Then: one request per query and scores line up with the input
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 0}, scores)
	assert.Len(t, f.recorded(), 2)
}

func TestHTTPClient_ScorePairsMissingScore(t *testing.T) {
	c := newTestClient(t, &fakeRerankServer{dropLast: true})

	_, err := c.ScorePairs(context.Background(), []searcher.Pair{{Query: "a", Document: "a"}, {Query: "a", Document: "b"}})

	assert.Equal(t, pgerrors.ErrCodeRerankFailed, pgerrors.GetCode(err))
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	f := &fakeRerankServer{failFirst: 2}
	c := newTestClient(t, f)

	ranked, err := c.Rank(context.Background(), "a", []string{"a"}, 0)

	require.NoError(t, err)
	assert.Len(t, ranked, 1)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, pgerrors.ErrCodeModelNotFound},
		{http.StatusBadRequest, pgerrors.ErrCodeRerankFailed},
		{http.StatusInternalServerError, pgerrors.ErrCodeBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := &fakeRerankServer{status: tt.status}
			c := newTestClient(t, f)

			_, err := c.Rank(context.Background(), "q", []string{"d"}, 0)

			assert.Equal(t, tt.want, pgerrors.GetCode(err))
		})
	}
}

func TestHTTPClient_NonRetryableFailsOnce(t *testing.T) {
	f := &fakeRerankServer{status: http.StatusBadRequest}
	c := newTestClient(t, f)

	_, err := c.Rank(context.Background(), "q", []string{"d"}, 0)

	require.Error(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestHTTPClient_Closed(t *testing.T) {
	c := newTestClient(t, &fakeRerankServer{})
	assert.True(t, c.Available(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.False(t, c.Available(context.Background()))
	_, err := c.Rank(context.Background(), "q", []string{"d"}, 0)
	assert.Error(t, err)
	_, err = c.ScorePairs(context.Background(), []searcher.Pair{{Query: "q", Document: "d"}})
	assert.Error(t, err)
}

func TestHTTPClient_DrivesCrossEncoderReranker(t *testing.T) {
	// Given: a cross-encoder reranker backed by the HTTP client
	c := newTestClient(t, &fakeRerankServer{})
	docs := mapDocs{1: "index\nbrin index", 2: "wal\nnothing", 3: "index\nindex index"}
	rr := searcher.NewCrossEncoderReranker(docs, c, searcher.WithBatchSize(2))
	in := searcher.NewSearchResult([]searcher.Candidate{{ID: 1}, {ID: 2}, {ID: 3}}, searcher.MetricUndefined, false)

	// When: reranking
	out, err := rr.Rerank(context.Background(), "index", in)

	// Then: server scores land on the right ids
	require.NoError(t, err)
	ordered, err := out.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []searcher.Candidate{{ID: 3, Value: 3}, {ID: 1, Value: 2}, {ID: 2, Value: 0}}, ordered)
}

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
