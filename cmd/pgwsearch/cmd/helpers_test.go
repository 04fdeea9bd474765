package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCatalog = `{"type":"issue","id":100,"published_at":"2024-09-02","link":"https://postgresweekly.com/issues/100"}
{"type":"issue","id":101,"published_at":"2024-09-09","link":"https://postgresweekly.com/issues/101"}
{"type":"entry","id":1,"issue_id":100,"title":"Logical replication in PostgreSQL 17","author":"Ana","content":"Failover slots and pg_createsubscriber.","main_link":"https://example.com/1"}
{"type":"entry","id":2,"issue_id":100,"title":"Partition pruning","content":"How the planner skips partitions.","main_link":"https://example.com/2"}
{"type":"entry","id":3,"issue_id":101,"title":"Tuning autovacuum","author":"Ben","content":"Autovacuum thresholds for large tables.","main_link":"https://example.com/3"}
{"type":"entry","id":4,"issue_id":101,"title":"Replication slots on standbys","main_link":"https://example.com/4"}
`

// cliEnv is an isolated home, working directory and data directory with a
// project config selecting the static embedder.
type cliEnv struct {
	dir     string
	dataDir string
	catalog string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Chdir(dir)

	env := &cliEnv{
		dir:     dir,
		dataDir: filepath.Join(dir, "data"),
		catalog: filepath.Join(dir, "catalog.jsonl"),
	}
	project := fmt.Sprintf("paths:\n  data_dir: %s\nembeddings:\n  provider: static\n", env.dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pgwsearch.yaml"), []byte(project), 0o644))
	require.NoError(t, os.WriteFile(env.catalog, []byte(testCatalog), 0o644))
	return env
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(t, context.Background(), args...)
}

func runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	_ = stopRun(root, nil)
	return stdout.String(), err
}

func (e *cliEnv) index(t *testing.T, extra ...string) string {
	t.Helper()
	out, err := run(t, append([]string{"index", "--catalog", e.catalog}, extra...)...)
	require.NoError(t, err)
	return out
}

type jsonResults struct {
	Query   string `json:"query"`
	Metric  string `json:"metric"`
	Warning string `json:"warning"`
	Results []struct {
		ID          uint64  `json:"id"`
		Title       string  `json:"title"`
		PublishedAt string  `json:"published_at"`
		Value       float64 `json:"value"`
	} `json:"results"`
}

func searchJSON(t *testing.T, args ...string) jsonResults {
	t.Helper()
	out, err := run(t, append([]string{"search", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var got jsonResults
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

func (r jsonResults) ids() []uint64 {
	ids := make([]uint64, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.ID
	}
	return ids
}
