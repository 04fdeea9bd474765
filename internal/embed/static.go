package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/pgweekly/pgwsearch/internal/store"
)

// StaticModelName identifies vectors produced by StaticEmbedder.
const StaticModelName = "static-hash-256"

// Term and trigram contributions to a static vector.
const (
	termWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

var staticStopWords = store.BuildStopWordMap(store.DefaultStopWords)

// StaticEmbedder produces deterministic hash-based embeddings. It needs no
// network or model files; semantic quality is limited to lexical overlap.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

func (e *StaticEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Embed hashes terms and character trigrams of text into a unit vector.
// Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(hashVector(trimmed)), nil
}

func hashVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	terms := store.FilterStopWords(store.Tokenize(text), staticStopWords)
	for _, term := range terms {
		vector[hashToIndex(term, StaticDimensions)] += termWeight
	}

	for _, gram := range trigrams(foldForTrigrams(text)) {
		vector[hashToIndex(gram, StaticDimensions)] += trigramWeight
	}
	return vector
}

// foldForTrigrams lowercases text and keeps letters and digits only.
func foldForTrigrams(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func trigrams(runes []rune) []string {
	if len(runes) < trigramSize {
		return nil
	}
	grams := make([]string, 0, len(runes)-trigramSize+1)
	for i := 0; i+trigramSize <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+trigramSize]))
	}
	return grams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns StaticDimensions.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns StaticModelName.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Available is true until Close.
func (e *StaticEmbedder) Available(_ context.Context) bool { return !e.isClosed() }

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
