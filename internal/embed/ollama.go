package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int
	retry     pgerrors.RetryConfig
	breaker   *pgerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it resolves an installed model and detects the vector width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	// No client-level timeout: every request carries its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		retry:     pgerrors.DefaultRetryConfig(),
		breaker:   pgerrors.NewCircuitBreaker("ollama"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()

		model, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = model

		if e.dims == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension check"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("detect embedding dimensions: %w", err)
			}
			e.dims = len(vecs[0])
		}
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, pgerrors.InternalError("build ollama request", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, pgerrors.BackendError("ollama is not reachable at "+e.config.Host, err).
			WithSuggestion("Start Ollama with 'ollama serve' or use embeddings.provider: static")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var result ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pgerrors.BackendError("decode ollama model list", err)
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model, then the fallbacks,
// against installed models by full name or by name without tag.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	installed := make(map[string]string, len(models)*2)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		installed[name] = m.Name
		base, _, _ := strings.Cut(name, ":")
		if _, ok := installed[base]; !ok {
			installed[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, want := range candidates {
		name := strings.ToLower(want)
		if actual, ok := installed[name]; ok {
			return actual, nil
		}
		base, _, _ := strings.Cut(name, ":")
		if actual, ok := installed[base]; ok {
			return actual, nil
		}
	}

	return "", pgerrors.Newf(pgerrors.ErrCodeModelNotFound,
		"no embedding model installed (tried %s)", strings.Join(candidates, ", ")).
		WithSuggestion("Pull the model with 'ollama pull " + e.config.Model + "'")
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Embed generates an embedding for a single text. Blank text yields the
// zero vector without a request.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request batches of config.BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.config.BatchSize, len(pending))

		batch := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		for j, idx := range pending[start:end] {
			results[idx] = vecs[j]
		}

		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(pending))
		}
	}
	return results, nil
}

// embedWithRetry runs doEmbed behind the circuit breaker, retrying
// retryable failures with backoff.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	return pgerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		attempt++
		vecs, err := pgerrors.Execute(e.breaker, func() ([][]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(reqCtx, texts)
		})
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, pgerrors.InternalError("encode ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, pgerrors.InternalError("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, pgerrors.New(pgerrors.ErrCodeBackendTimeout, "ollama embedding timed out", err)
		}
		return nil, pgerrors.BackendError("ollama embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pgerrors.BackendError("decode ollama embeddings", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, pgerrors.InternalError(
			fmt.Sprintf("ollama returned %d embeddings for %d texts", len(out.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// statusError maps a non-200 response to a coded error. Server-side
// failures are retryable; a missing model is not.
func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pgerrors.New(pgerrors.ErrCodeModelNotFound, msg, nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return pgerrors.BackendError(msg, nil)
	default:
		return pgerrors.ValidationError(msg, nil)
	}
}

// Dimensions returns the detected or configured vector width.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the resolved Ollama model name.
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available checks that Ollama answers and still lists the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	want := strings.ToLower(e.modelName)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || strings.HasPrefix(name, want+":") {
			return true
		}
	}
	return false
}

// Close releases idle connections. It is safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
