package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pgweekly/pgwsearch/internal/store"
)

// maxSnippetRunes bounds the content excerpt returned per result.
const maxSnippetRunes = 400

// SearchInput is the input schema of the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query, e.g. logical replication failover"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput is the output schema of the search tool.
type SearchOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"matching newsletter entries, best first"`
	Metric  string         `json:"metric" jsonschema:"meaning of value: score (higher is better), distance (lower is better) or undefined"`
	Warning string         `json:"warning,omitempty" jsonschema:"set when reranking dropped candidates"`
}

// ResultOutput is one newsletter entry in SearchOutput.
type ResultOutput struct {
	ID          uint64  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author,omitempty"`
	Link        string  `json:"link"`
	PublishedAt string  `json:"published_at" jsonschema:"issue publish date, YYYY-MM-DD"`
	Snippet     string  `json:"snippet,omitempty"`
	Value       float64 `json:"value"`
}

// ToResultOutput converts a display record, trimming its content to a snippet.
func ToResultOutput(r *store.DisplayRecord) ResultOutput {
	return ResultOutput{
		ID:          r.ID,
		Title:       r.Title,
		Author:      r.Author,
		Link:        r.Link,
		PublishedAt: r.PublishedAt,
		Snippet:     snippet(r.Content, maxSnippetRunes),
		Value:       r.Value,
	}
}

// FormatSearchResults renders results as markdown for clients that only
// read text content.
func FormatSearchResults(query string, out SearchOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")
	if out.Warning != "" {
		fmt.Fprintf(&sb, "> Warning: %s\n\n", out.Warning)
	}

	for i, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s\n", i+1, r.Title)
		meta := []string{r.PublishedAt}
		if r.Author != "" {
			meta = append(meta, r.Author)
		}
		if out.Metric != "undefined" {
			meta = append(meta, fmt.Sprintf("%s: %.4f", out.Metric, r.Value))
		}
		fmt.Fprintf(&sb, "%s\n", strings.Join(meta, " | "))
		fmt.Fprintf(&sb, "<%s>\n\n", r.Link)
		if r.Snippet != "" {
			sb.WriteString(r.Snippet)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

func snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= max {
		return content
	}
	runes := []rune(content)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
