package embed

import "time"

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel matches the embedding space the newsletter catalog
	// is usually indexed with.
	DefaultOllamaModel = "bge-small-en-v1.5"

	// OllamaPoolSize sizes the HTTP connection pool.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the configured model is not installed.
var FallbackOllamaModels = []string{
	"nomic-embed-text",
	"mxbai-embed-large",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	BatchSize int
	Timeout   time.Duration
	PoolSize  int

	// SkipHealthCheck skips model discovery at construction (tests).
	SkipHealthCheck bool

	// ProgressFunc is called after each batch with (completed, total).
	ProgressFunc func(completed, total int)
}

// DefaultOllamaConfig returns the default Ollama settings.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		PoolSize:       OllamaPoolSize,
	}
}

// ollamaEmbedRequest is the /api/embed request body. Input is a string or
// a []string.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
