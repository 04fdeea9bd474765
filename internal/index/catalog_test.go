package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

const sampleCatalog = `{"type":"issue","id":100,"published_at":"2024-09-02","link":"https://postgresweekly.com/issues/100"}
{"type":"issue","id":101,"published_at":"2024-09-09","link":"https://postgresweekly.com/issues/101"}

{"type":"entry","id":1,"issue_id":100,"title":"Logical replication in PostgreSQL 17","author":"Ana","content":"Failover slots and pg_createsubscriber.","main_link":"https://example.com/1","other_links":["https://example.com/1b"],"tag":"replication"}
{"type":"entry","id":2,"issue_id":100,"title":"Partition pruning","content":"How the planner skips partitions.","main_link":"https://example.com/2"}
{"type":"entry","id":3,"issue_id":101,"title":"Tuning autovacuum","author":"Ben","content":"Autovacuum thresholds for large tables.","main_link":"https://example.com/3"}
{"type":"entry","id":4,"issue_id":101,"title":"Replication slots on standbys","main_link":"https://example.com/4"}
`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCatalog(t *testing.T) {
	cat, err := ReadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, cat.Issues, 2)
	assert.Equal(t, int64(100), cat.Issues[0].ID)
	assert.Equal(t, "2024-09-09", cat.Issues[1].PublishedAt.Format("2006-01-02"))

	require.Len(t, cat.Entries, 4)
	first := cat.Entries[0]
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, "Ana", first.Author)
	assert.Equal(t, []string{"https://example.com/1b"}, first.OtherLinks)
	assert.Equal(t, "replication", first.Tag)
	assert.Empty(t, cat.Entries[3].Content)
}

func TestReadCatalog_LaterRecordReplaces(t *testing.T) {
	input := `{"type":"issue","id":1,"published_at":"2024-01-01"}
{"type":"entry","id":7,"issue_id":1,"title":"old"}
{"type":"entry","id":8,"issue_id":1,"title":"other"}
{"type":"entry","id":7,"issue_id":1,"title":"new"}`

	cat, err := ReadCatalog(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, cat.Entries, 2)
	assert.Equal(t, "new", cat.Entries[0].Title)
	assert.Equal(t, uint64(8), cat.Entries[1].ID)
}

func TestReadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", `{"type":`, "line 1"},
		{"unknown type", `{"type":"author","id":1}`, "unknown record type"},
		{"bad date", `{"type":"issue","id":1,"published_at":"02/09/2024"}`, "YYYY-MM-DD"},
		{"issue id", `{"type":"issue","id":0,"published_at":"2024-01-01"}`, "positive"},
		{"missing title", `{"type":"issue","id":1,"published_at":"2024-01-01"}` + "\n" +
			`{"type":"entry","id":2,"issue_id":1}`, "line 2"},
		{"missing issue id", `{"type":"entry","id":2,"title":"x"}`, "issue_id"},
		{"dangling issue", `{"type":"entry","id":2,"issue_id":9,"title":"x"}`, "unknown issue 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCatalog(strings.NewReader(tt.input))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, pgerrors.CategoryValidation, pgerrors.GetCategory(err))
		})
	}
}

func TestReadCatalogFile_Missing(t *testing.T) {
	_, err := ReadCatalogFile(filepath.Join(t.TempDir(), "nope.jsonl"))

	require.Error(t, err)
	assert.Equal(t, pgerrors.ErrCodeFileNotFound, pgerrors.GetCode(err))
}

func TestReadCatalogFile_Empty(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), "\n\n")

	cat, err := ReadCatalogFile(path)

	require.NoError(t, err)
	assert.Empty(t, cat.Issues)
	assert.Empty(t, cat.Entries)
}
