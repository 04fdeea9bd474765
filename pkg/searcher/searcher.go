package searcher

import (
	"context"
	"errors"
	"unicode/utf8"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// Searcher produces a candidate set for a query.
//
// Implementations must be safe for concurrent use. A source that cannot be
// reached fails with errors.ErrBackendUnavailable; a query that cannot be
// tokenized or embedded fails with errors.ErrInvalidQuery.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// SearchFunc is the callable a Pipeline exposes.
type SearchFunc func(ctx context.Context, query string) (SearchResult, error)

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string) (SearchResult, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string) (SearchResult, error) {
	return f(ctx, query)
}

// NullSearcher always returns an empty result with MetricUndefined. It
// fills a pipeline slot whose source is unavailable or not wanted.
type NullSearcher struct{}

var _ Searcher = NullSearcher{}

// Search returns EmptyResult for every query, including "".
func (NullSearcher) Search(context.Context, string) (SearchResult, error) {
	return EmptyResult(), nil
}

func validateQuery(query string) error {
	if !utf8.ValidString(query) {
		return pgerrors.New(pgerrors.ErrCodeInvalidQuery, "query is not valid UTF-8", nil)
	}
	return nil
}

// backendError classifies a collaborator failure. Coded errors and context
// errors pass through; anything else is reported as an unreachable backend.
func backendError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || pgerrors.GetCode(err) != "" {
		return err
	}
	return pgerrors.BackendError(what+" unavailable", err)
}
