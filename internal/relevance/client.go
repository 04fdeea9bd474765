// Package relevance provides query-document relevance models used by the
// rerankers in pkg/searcher: an HTTP client for a rerank server and a local
// term-overlap model.
package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// Rerank server defaults.
const (
	DefaultEndpoint      = "http://localhost:9659"
	DefaultModel         = "bge-reranker-base"
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 10 * time.Second
)

// Config configures an HTTPClient.
type Config struct {
	// Endpoint is the rerank server base URL.
	Endpoint string
	// Model is sent with every request; servers hosting one model ignore it.
	Model   string
	Timeout time.Duration
	// SkipHealthCheck skips GET /health at construction.
	SkipHealthCheck bool
}

// DefaultConfig returns the default rerank server settings.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Model:    DefaultModel,
		Timeout:  DefaultTimeout,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// HTTPClient talks to a rerank server over POST /rerank. It serves both
// pairwise scoring (searcher.RelevanceModel) and backend-sorted ranking
// (searcher.RankingModel). Retryable failures are retried with backoff
// behind a circuit breaker.
type HTTPClient struct {
	client    *http.Client
	transport *http.Transport
	config    Config
	retry     pgerrors.RetryConfig
	breaker   *pgerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var (
	_ searcher.RelevanceModel = (*HTTPClient)(nil)
	_ searcher.RankingModel   = (*HTTPClient)(nil)
)

// NewHTTPClient creates a rerank server client and, unless
// cfg.SkipHealthCheck is set, verifies the server answers.
func NewHTTPClient(ctx context.Context, cfg Config) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	c := &HTTPClient{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		retry:     pgerrors.DefaultRetryConfig(),
		breaker:   pgerrors.NewCircuitBreaker("reranker"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
		if err := c.healthCheck(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}

	slog.Debug("rerank_client_ready",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

func (c *HTTPClient) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return pgerrors.InternalError("build health request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return pgerrors.BackendError("rerank server is not reachable at "+c.config.Endpoint, err).
			WithSuggestion("Start the rerank server or use --rerank overlap")
	}
	defer func() { _ = resp.Body.Close() }()
	return statusError(resp)
}

func (c *HTTPClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Rank returns docs ranked against query, best first. topK <= 0 returns
// every document.
func (c *HTTPClient) Rank(ctx context.Context, query string, docs []string, topK int) ([]searcher.Ranked, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("rerank client is closed")
	}
	if len(docs) == 0 {
		return []searcher.Ranked{}, nil
	}

	resp, err := c.rerankWithRetry(ctx, rerankRequest{Query: query, Documents: docs, Model: c.config.Model, TopK: max(topK, 0)})
	if err != nil {
		return nil, err
	}

	ranked := make([]searcher.Ranked, len(resp.Results))
	for i, r := range resp.Results {
		ranked[i] = searcher.Ranked{Index: r.Index, Score: r.Score}
	}
	// Servers are expected to sort; enforce it so callers can trust the order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// ScorePairs scores each pair. Pairs sharing a query go out in one request;
// scores come back in input order.
func (c *HTTPClient) ScorePairs(ctx context.Context, pairs []searcher.Pair) ([]float64, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("rerank client is closed")
	}

	scores := make([]float64, len(pairs))
	groups := make(map[string][]int)
	var order []string
	for i, p := range pairs {
		if _, ok := groups[p.Query]; !ok {
			order = append(order, p.Query)
		}
		groups[p.Query] = append(groups[p.Query], i)
	}

	for _, query := range order {
		positions := groups[query]
		docs := make([]string, len(positions))
		for j, pos := range positions {
			docs[j] = pairs[pos].Document
		}

		resp, err := c.rerankWithRetry(ctx, rerankRequest{Query: query, Documents: docs, Model: c.config.Model})
		if err != nil {
			return nil, err
		}

		seen := make([]bool, len(docs))
		for _, r := range resp.Results {
			if r.Index < 0 || r.Index >= len(docs) {
				return nil, pgerrors.New(pgerrors.ErrCodeRerankFailed,
					fmt.Sprintf("rerank server returned index %d for %d documents", r.Index, len(docs)), nil)
			}
			seen[r.Index] = true
			scores[positions[r.Index]] = r.Score
		}
		for j, ok := range seen {
			if !ok {
				return nil, pgerrors.New(pgerrors.ErrCodeRerankFailed,
					fmt.Sprintf("rerank server returned no score for document %d", j), nil)
			}
		}
	}
	return scores, nil
}

func (c *HTTPClient) rerankWithRetry(ctx context.Context, body rerankRequest) (*rerankResponse, error) {
	attempt := 0
	return pgerrors.RetryWithResult(ctx, c.retry, func() (*rerankResponse, error) {
		attempt++
		resp, err := pgerrors.Execute(c.breaker, func() (*rerankResponse, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
			return c.doRerank(reqCtx, body)
		})
		if err != nil {
			slog.Debug("rerank_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("documents", len(body.Documents)),
				slog.String("error", err.Error()))
		}
		return resp, err
	})
}

func (c *HTTPClient) doRerank(ctx context.Context, body rerankRequest) (*rerankResponse, error) {
	start := time.Now()
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pgerrors.InternalError("encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, pgerrors.InternalError("build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, pgerrors.New(pgerrors.ErrCodeBackendTimeout, "rerank request timed out", err)
		}
		return nil, pgerrors.BackendError("rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pgerrors.BackendError("decode rerank response", err)
	}

	slog.Debug("rerank_http_timing",
		slog.Int("documents", len(body.Documents)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", out.ProcessingTimeMs))
	return &out, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("rerank server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pgerrors.New(pgerrors.ErrCodeModelNotFound, msg, nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return pgerrors.BackendError(msg, nil)
	default:
		return pgerrors.New(pgerrors.ErrCodeRerankFailed, msg, nil)
	}
}

// Available reports whether the server answers its health check.
func (c *HTTPClient) Available(ctx context.Context) bool {
	if c.isClosed() {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.healthCheck(checkCtx) == nil
}

// Close releases idle connections. It is safe to call more than once.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
