package embed

import (
	"context"
	"math"
	"strings"
	"time"
)

const (
	// MaxBatchSize caps a single embedding request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultHealthTimeout bounds the startup model discovery, which may
	// include a cold model load on the server side.
	DefaultHealthTimeout = 90 * time.Second

	// StaticDimensions is the vector width of the hash embedder.
	StaticDimensions = 256
)

// BGEQueryPrefix is the retrieval instruction BGE models expect in front of
// a search query. Passages are embedded without it.
const BGEQueryPrefix = "Represent this sentence for searching relevant passages: "

// Embedder turns text into fixed-width vectors.
//
// Embed is used for search queries and EmbedBatch for documents, which lets
// decorators such as QueryPrefixEmbedder treat the two differently.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width.
	Dimensions() int

	// ModelName returns the model identifier the vectors belong to.
	ModelName() string

	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// DefaultQueryPrefix returns the query instruction conventionally used with
// the named model, or "" if the model takes raw queries.
func DefaultQueryPrefix(model string) string {
	if strings.Contains(strings.ToLower(model), "bge") {
		return BGEQueryPrefix
	}
	return ""
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
