package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/store"
)

// Format is a search result output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const textSnippetRunes = 240

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", pgerrors.ValidationError(fmt.Sprintf("unknown output format %q", s), nil).
			WithSuggestion("Use --format text or --format json")
	}
}

// ResultSet is a materialized search answer.
type ResultSet struct {
	Query string `json:"query"`
	// Metric is score, distance or undefined.
	Metric  string                 `json:"metric"`
	Warning string                 `json:"warning,omitempty"`
	Records []*store.DisplayRecord `json:"results"`
}

// WriteJSON encodes rs as indented JSON.
func WriteJSON(out io.Writer, rs ResultSet) error {
	if rs.Records == nil {
		rs.Records = []*store.DisplayRecord{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}

// Results renders rs as a numbered list, best first.
func (w *Writer) Results(rs ResultSet) {
	if rs.Warning != "" {
		w.Warning(rs.Warning)
	}
	if len(rs.Records) == 0 {
		w.Status("", fmt.Sprintf("No results found for %q", rs.Query))
		return
	}

	noun := "results"
	if len(rs.Records) == 1 {
		noun = "result"
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(
		fmt.Sprintf("Found %d %s for %q", len(rs.Records), noun, rs.Query)))
	w.Newline()

	width := len(fmt.Sprint(len(rs.Records)))
	for i, r := range rs.Records {
		rank := w.styles.Rank.Render(fmt.Sprintf("%*d.", width, i+1))
		_, _ = fmt.Fprintf(w.out, "%s %s\n", rank, w.styles.Title.Render(r.Title))

		indent := strings.Repeat(" ", width+2)
		meta := []string{r.PublishedAt}
		if r.Author != "" {
			meta = append(meta, r.Author)
		}
		line := w.styles.Meta.Render(strings.Join(meta, " · "))
		if rs.Metric != "" && rs.Metric != "undefined" {
			line += w.styles.Meta.Render(" · ") + w.styles.Value.Render(fmt.Sprintf("%s %.4f", rs.Metric, r.Value))
		}
		_, _ = fmt.Fprintf(w.out, "%s%s\n", indent, line)
		_, _ = fmt.Fprintf(w.out, "%s%s\n", indent, w.styles.Link.Render(r.Link))
		if s := firstRunes(r.Content, textSnippetRunes); s != "" {
			_, _ = fmt.Fprintf(w.out, "%s%s\n", indent, s)
		}
		w.Newline()
	}
}

// firstRunes collapses whitespace and cuts s to n runes.
func firstRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
