package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pgweekly/pgwsearch/internal/config"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
	"github.com/pgweekly/pgwsearch/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "pgwsearch"

const maxLimit = 100

// StatsSource reports catalog sizes for index_status.
type StatsSource interface {
	Counts(ctx context.Context) (issues, entries int, err error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	// Search runs the configured pipeline (required).
	Search searcher.SearchFunc

	// Display materializes results (required).
	Display searcher.DisplayStore

	// Stats is optional; without it index_status reports no counts.
	Stats StatsSource

	// Config supplies defaults and is echoed by index_status.
	Config *config.Config
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput describes the index the server searches.
type IndexStatusOutput struct {
	Issues         int      `json:"issues"`
	Entries        int      `json:"entries"`
	Searchers      []string `json:"searchers"`
	Fusion         string   `json:"fusion"`
	Reranker       string   `json:"reranker"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Version        string   `json:"version"`
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Server is the MCP server wrapping one search pipeline.
type Server struct {
	mcp     *mcp.Server
	search  searcher.SearchFunc
	display searcher.DisplayStore
	stats   StatsSource
	config  *config.Config
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Search the Postgres Weekly newsletter archive. Returns linked articles " +
			"with title, author, issue date and a content snippet, best match first.",
	},
	{
		Name:        "index_status",
		Description: "Report how many issues and entries are indexed and which search pipeline is active.",
	},
}

// NewServer creates a Server and registers its tools.
func NewServer(deps Deps) (*Server, error) {
	if deps.Search == nil {
		return nil, errors.New("search function is required")
	}
	if deps.Display == nil {
		return nil, errors.New("display store is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		search:  deps.Search,
		display: deps.Display,
		stats:   deps.Stats,
		config:  cfg,
		logger:  slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool directly, bypassing the transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, &MCPError{Code: ErrCodeInternalError, Message: "Server is closed."}
	}

	switch name {
	case "search":
		input := SearchInput{}
		if q, ok := args["query"].(string); ok {
			input.Query = q
		}
		switch l := args["limit"].(type) {
		case float64:
			input.Limit = int(l)
		case int:
			input.Limit = l
		}
		return s.handleSearch(ctx, input)
	case "index_status":
		return s.handleIndexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) handleSearch(ctx context.Context, input SearchInput) (SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if !utf8.ValidString(query) {
		return SearchOutput{}, NewInvalidParamsError("query must be valid UTF-8")
	}
	limit := clampLimit(input.Limit, s.config.Search.MaxResults, 1, maxLimit)

	result, err := s.search(ctx, query)
	if err != nil {
		s.logger.Warn("mcp_search_failed", slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}
	records, err := searcher.Materialize(ctx, s.display, result, limit)
	if err != nil {
		return SearchOutput{}, MapError(err)
	}

	out := SearchOutput{
		Results: make([]ResultOutput, 0, len(records)),
		Metric:  result.Metric().String(),
	}
	if w := result.Warning(); w != nil {
		out.Warning = w.Error()
	}
	for _, r := range records {
		out.Results = append(out.Results, ToResultOutput(r))
	}

	s.logger.Debug("mcp_search_complete",
		slog.Int("results", len(out.Results)),
		slog.String("metric", out.Metric))
	return out, nil
}

func (s *Server) handleIndexStatus(ctx context.Context) (IndexStatusOutput, error) {
	out := IndexStatusOutput{
		Searchers: s.config.Search.Searchers,
		Fusion:    s.config.Search.Fusion,
		Reranker:  s.config.Search.Reranker,
		Version:   version.Version,
	}
	for _, name := range s.config.Search.Searchers {
		if name == config.SearcherVector {
			out.EmbeddingModel = s.config.Embeddings.Model
		}
	}
	if s.stats != nil {
		issues, entries, err := s.stats.Counts(ctx)
		if err != nil {
			return IndexStatusOutput{}, MapError(err)
		}
		out.Issues, out.Entries = issues, entries
	}
	return out, nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.handleSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(input.Query, out)}},
	}, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out, err := s.handleIndexStatus(ctx)
	return nil, out, err
}

// Serve runs the server on transport until ctx is done. Only stdio is
// supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close marks the server closed; later tool calls fail.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
