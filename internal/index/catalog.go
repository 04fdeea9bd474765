package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/store"
)

// Record kinds of a catalog line.
const (
	KindIssue = "issue"
	KindEntry = "entry"
)

// maxLineBytes bounds a single catalog line; entry content can be long.
const maxLineBytes = 4 << 20

// catalogRecord is one JSONL line. Issue lines use id, published_at and
// link; entry lines use the remaining fields.
type catalogRecord struct {
	Type        string   `json:"type"`
	ID          int64    `json:"id"`
	PublishedAt string   `json:"published_at,omitempty"`
	Link        string   `json:"link,omitempty"`
	IssueID     int64    `json:"issue_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Author      string   `json:"author,omitempty"`
	Content     string   `json:"content,omitempty"`
	MainLink    string   `json:"main_link,omitempty"`
	OtherLinks  []string `json:"other_links,omitempty"`
	Tag         string   `json:"tag,omitempty"`
}

// Catalog is the parsed content of a catalog file.
type Catalog struct {
	Issues  []*store.Issue
	Entries []*store.Entry
}

// ReadCatalogFile parses the JSONL catalog at path.
func ReadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot open catalog %s", path), err).
			WithSuggestion("Pass an existing JSONL file with --catalog or set paths.catalog")
	}
	defer f.Close()
	return ReadCatalog(f)
}

// ReadCatalog parses JSONL issue and entry records. Blank lines are
// skipped. Entries must reference an issue present in the same catalog, and
// a later record with a repeated id replaces the earlier one.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	issues := make(map[int64]*store.Issue)
	entries := make(map[uint64]*store.Entry)
	var issueOrder []int64
	var entryOrder []uint64

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec catalogRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, catalogError(line, "invalid JSON", err)
		}

		switch rec.Type {
		case KindIssue:
			issue, err := rec.issue()
			if err != nil {
				return nil, catalogError(line, err.Error(), nil)
			}
			if _, seen := issues[issue.ID]; !seen {
				issueOrder = append(issueOrder, issue.ID)
			}
			issues[issue.ID] = issue
		case KindEntry:
			entry, err := rec.entry()
			if err != nil {
				return nil, catalogError(line, err.Error(), nil)
			}
			if _, seen := entries[entry.ID]; !seen {
				entryOrder = append(entryOrder, entry.ID)
			}
			entries[entry.ID] = entry
		default:
			return nil, catalogError(line, fmt.Sprintf("unknown record type %q", rec.Type), nil)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, pgerrors.New(pgerrors.ErrCodeIndexFailed, "cannot read catalog", err)
	}

	cat := &Catalog{
		Issues:  make([]*store.Issue, 0, len(issueOrder)),
		Entries: make([]*store.Entry, 0, len(entryOrder)),
	}
	for _, id := range issueOrder {
		cat.Issues = append(cat.Issues, issues[id])
	}
	for _, id := range entryOrder {
		e := entries[id]
		if _, ok := issues[e.IssueID]; !ok {
			return nil, pgerrors.ValidationError(
				fmt.Sprintf("catalog entry %d references unknown issue %d", e.ID, e.IssueID), nil)
		}
		cat.Entries = append(cat.Entries, e)
	}
	return cat, nil
}

func (r *catalogRecord) issue() (*store.Issue, error) {
	if r.ID <= 0 {
		return nil, fmt.Errorf("issue id must be positive, got %d", r.ID)
	}
	published, err := time.Parse(store.DateLayout, r.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("issue %d: published_at must be YYYY-MM-DD", r.ID)
	}
	return &store.Issue{ID: r.ID, PublishedAt: published.UTC(), Link: r.Link}, nil
}

func (r *catalogRecord) entry() (*store.Entry, error) {
	switch {
	case r.ID <= 0:
		return nil, fmt.Errorf("entry id must be positive, got %d", r.ID)
	case r.IssueID <= 0:
		return nil, fmt.Errorf("entry %d: issue_id is required", r.ID)
	case strings.TrimSpace(r.Title) == "":
		return nil, fmt.Errorf("entry %d: title is required", r.ID)
	}
	return &store.Entry{
		ID:         uint64(r.ID),
		IssueID:    r.IssueID,
		Title:      r.Title,
		Author:     r.Author,
		Content:    r.Content,
		MainLink:   r.MainLink,
		OtherLinks: r.OtherLinks,
		Tag:        r.Tag,
	}, nil
}

func catalogError(line int, msg string, cause error) error {
	return pgerrors.New(pgerrors.ErrCodeInvalidInput,
		fmt.Sprintf("catalog line %d: %s", line, msg), cause)
}
