//go:build ignore

// Command generate-catalog writes a synthetic newsletter catalog for
// benchmarking index builds and queries.
// Usage: go run scripts/generate-catalog.go -issues 500 -output testdata/bench.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

var (
	numIssues = flag.Int("issues", 500, "Number of issues to generate")
	perIssue  = flag.Int("entries", 12, "Entries per issue")
	output    = flag.String("output", "testdata/bench.jsonl", "Output file")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	topics = []string{
		"logical replication", "autovacuum", "partitioning", "connection pooling",
		"JSONB indexing", "query planner", "WAL archiving", "pgvector", "row level security",
		"full text search", "B-tree deduplication", "parallel query", "backup and restore",
		"upgrade to PostgreSQL 17", "foreign data wrappers", "materialized views",
	}
	verbs   = []string{"Tuning", "Understanding", "Debugging", "Scaling", "A deep dive into", "Benchmarking"}
	authors = []string{"Ana Souza", "Ben Carter", "Chen Wei", "Dana Ilic", "Emeka Obi", ""}
	filler  = []string{
		"The post walks through a production incident and the settings that fixed it.",
		"Includes benchmarks on a 64 core machine with EXPLAIN ANALYZE output.",
		"Covers the trade-offs and when the default is good enough.",
		"A short video with slides and a companion repository.",
		"Explains the catalog views you can query to watch it happen.",
	}
)

type record struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	PublishedAt string `json:"published_at,omitempty"`
	Link        string `json:"link,omitempty"`
	IssueID     int64  `json:"issue_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Content     string `json:"content,omitempty"`
	MainLink    string `json:"main_link,omitempty"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *output, err)
		os.Exit(1)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	start := time.Date(2013, 1, 4, 0, 0, 0, 0, time.UTC)
	var entryID int64
	for i := 1; i <= *numIssues; i++ {
		issue := record{
			Type:        "issue",
			ID:          int64(i),
			PublishedAt: start.AddDate(0, 0, 7*(i-1)).Format("2006-01-02"),
			Link:        fmt.Sprintf("https://postgresweekly.com/issues/%d", i),
		}
		must(enc.Encode(issue))

		for j := 0; j < *perIssue; j++ {
			entryID++
			topic := topics[rng.Intn(len(topics))]
			must(enc.Encode(record{
				Type:     "entry",
				ID:       entryID,
				IssueID:  issue.ID,
				Title:    verbs[rng.Intn(len(verbs))] + " " + topic,
				Author:   authors[rng.Intn(len(authors))],
				Content:  content(rng, topic),
				MainLink: fmt.Sprintf("https://example.com/%d/%s", entryID, strings.ReplaceAll(topic, " ", "-")),
			}))
		}
	}

	must(w.Flush())
	must(f.Close())
	fmt.Printf("Generated %d issues with %d entries in %s\n", *numIssues, entryID, *output)
}

func content(rng *rand.Rand, topic string) string {
	parts := []string{fmt.Sprintf("Notes on %s in PostgreSQL.", topic)}
	for n := rng.Intn(3) + 1; n > 0; n-- {
		parts = append(parts, filler[rng.Intn(len(filler))])
	}
	return strings.Join(parts, " ")
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
