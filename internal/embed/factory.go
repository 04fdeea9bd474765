package embed

import (
	"context"
	"fmt"
	"strings"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderOllama embeds through a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses the hash embedder; no server required.
	ProviderStatic ProviderType = "static"
)

// NoQueryPrefix disables the model's default query prefix.
const NoQueryPrefix = "none"

// Options selects and decorates an embedder.
type Options struct {
	Provider   ProviderType
	Model      string
	OllamaHost string
	BatchSize  int

	// QueryPrefix is prepended to queries. Empty selects the model's
	// default (see DefaultQueryPrefix); NoQueryPrefix disables it.
	QueryPrefix string

	// CacheSize bounds the query cache; negative disables caching.
	CacheSize int
}

// ParseProvider converts a configuration string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderStatic:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", pgerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("Use 'ollama' or 'static'")
	}
}

// NewEmbedder builds the embedder described by opts, wrapped with the query
// cache and query prefix. An unreachable provider is an error; there is no
// silent fallback to the static embedder, since its vectors would not match
// an index built with another model.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var base Embedder
	switch opts.Provider {
	case ProviderStatic:
		base = NewStaticEmbedder()
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.Model != "" {
			cfg.Model = opts.Model
			cfg.FallbackModels = []string{}
		}
		if opts.OllamaHost != "" {
			cfg.Host = opts.OllamaHost
		}
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		e, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, pgerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", opts.Provider), nil)
	}

	wrapped := base
	if opts.CacheSize >= 0 {
		wrapped = NewCachedEmbedder(base, opts.CacheSize)
	}
	return WithQueryPrefix(wrapped, resolvePrefix(opts.QueryPrefix, base.ModelName())), nil
}

func resolvePrefix(configured, model string) string {
	switch configured {
	case NoQueryPrefix:
		return ""
	case "":
		return DefaultQueryPrefix(model)
	default:
		return configured
	}
}
