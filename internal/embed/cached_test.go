package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder counts calls and returns a vector derived from text length.
type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	mu         sync.Mutex
	lastText   string
	dims       int
	err        error
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims}
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dims)
	vec[len(text)%m.dims] = 1
	return vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	m.mu.Lock()
	m.lastText = text
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(texts))
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                  { return m.dims }
func (m *mockEmbedder) ModelName() string                { return "mock-model" }
func (m *mockEmbedder) Available(_ context.Context) bool { return true }
func (m *mockEmbedder) Close() error                     { return nil }

func TestCachedEmbedder_Embed_SecondCallHitsCache(t *testing.T) {
	// Given: a cached embedder over a counting mock
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)

	// When: the same query is embedded twice
	first, err := cached.Embed(context.Background(), "wal archiving")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "wal archiving")
	require.NoError(t, err)

	// Then: the inner embedder ran once and both calls agree
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_Embed_ErrorsAreNotCached(t *testing.T) {
	inner := newMockEmbedder(8)
	inner.err = errors.New("backend down")
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "q")
	require.Error(t, err)

	assert.Equal(t, 0, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlySendsMisses(t *testing.T) {
	// Given: one text already cached
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	_, err := cached.Embed(context.Background(), "b")
	require.NoError(t, err)

	// When: a batch containing it is embedded
	out, err := cached.EmbedBatch(context.Background(), []string{"a", "b", "ccc"})
	require.NoError(t, err)

	// Then: only the two misses reach the inner embedder, order is preserved
	require.Len(t, out, 3)
	assert.Equal(t, []int{2}, inner.batchSizes)
	assert.Equal(t, inner.vector("ccc"), out[2])
	assert.Equal(t, inner.vector("b"), out[1])
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		_, err := cached.Embed(ctx, q)
		require.NoError(t, err)
	}
	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)

	assert.Equal(t, int64(4), inner.embedCalls.Load())
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_NonPositiveSizeUsesDefault(t *testing.T) {
	cached := NewCachedEmbedder(newMockEmbedder(4), 0)
	assert.NotNil(t, cached.cache)
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.Equal(t, 4, cached.Dimensions())
}

func TestWithQueryPrefix(t *testing.T) {
	t.Run("empty prefix returns inner", func(t *testing.T) {
		inner := newMockEmbedder(4)
		assert.Same(t, Embedder(inner), WithQueryPrefix(inner, ""))
	})

	t.Run("prefix applies to queries only", func(t *testing.T) {
		inner := newMockEmbedder(4)
		e := WithQueryPrefix(inner, BGEQueryPrefix)

		_, err := e.Embed(context.Background(), "toast compression")
		require.NoError(t, err)
		assert.Equal(t, BGEQueryPrefix+"toast compression", inner.lastText)

		_, err = e.EmbedBatch(context.Background(), []string{"doc"})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, inner.batchSizes)
		assert.Equal(t, BGEQueryPrefix+"toast compression", inner.lastText)
	})
}

func TestDefaultQueryPrefix(t *testing.T) {
	assert.Equal(t, BGEQueryPrefix, DefaultQueryPrefix("BAAI/bge-small-en-v1.5"))
	assert.Empty(t, DefaultQueryPrefix("nomic-embed-text"))
}
