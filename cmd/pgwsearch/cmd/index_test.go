package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/index"
)

func TestIndex_BuildsArtifacts(t *testing.T) {
	// Given: a fresh data directory
	env := newCLIEnv(t)

	// When: indexing the catalog
	out := env.index(t)

	// Then: the summary is printed and every artifact exists
	assert.Contains(t, out, "Indexed 4 entries from 2 issues")
	assert.Contains(t, out, "Embedded 4 entries with static-hash-256 (256 dimensions)")
	for _, name := range []string{"pgwsearch.db", "indexes/bm25.db", "indexes/static-hash-256.hnsw"} {
		assert.FileExists(t, filepath.Join(env.dataDir, name))
	}
}

func TestIndex_IsRepeatable(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t, "--lexical-only")

	out := env.index(t, "--lexical-only")

	assert.Contains(t, out, "Indexed 4 entries")
	assert.NotContains(t, out, "Embedded")
	assert.Len(t, searchJSON(t, "replication").Results, 2)
}

func TestIndex_CatalogFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("PGWS_CATALOG", env.catalog)

	_, err := run(t, "index", "--lexical-only")

	require.NoError(t, err)
}

func TestIndex_Errors(t *testing.T) {
	t.Run("no catalog", func(t *testing.T) {
		newCLIEnv(t)

		_, err := run(t, "index")

		assert.Equal(t, pgerrors.CategoryConfig, pgerrors.GetCategory(err))
	})

	t.Run("missing catalog file", func(t *testing.T) {
		env := newCLIEnv(t)

		_, err := run(t, "index", "--catalog", filepath.Join(env.dir, "nope.jsonl"))

		assert.Equal(t, pgerrors.ErrCodeFileNotFound, pgerrors.GetCode(err))
	})

	t.Run("malformed catalog", func(t *testing.T) {
		env := newCLIEnv(t)
		require.NoError(t, os.WriteFile(env.catalog, []byte("{not json\n"), 0o644))

		_, err := run(t, "index", "--catalog", env.catalog)

		assert.Equal(t, pgerrors.CategoryValidation, pgerrors.GetCategory(err))
	})

	t.Run("data directory locked", func(t *testing.T) {
		env := newCLIEnv(t)
		held := index.NewDataDirLock(env.dataDir)
		ok, err := held.TryAcquire()
		require.NoError(t, err)
		require.True(t, ok)
		defer func() { _ = held.Release() }()

		// flock locks are per open file description, so a second lock in
		// the same process still conflicts.
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		_, err = runContext(t, ctx, "index", "--catalog", env.catalog, "--lexical-only")

		assert.Equal(t, pgerrors.ErrCodeIndexFailed, pgerrors.GetCode(err))
	})
}

func TestServe_RequiresIndex(t *testing.T) {
	newCLIEnv(t)

	_, err := run(t, "serve")

	assert.Equal(t, pgerrors.ErrCodeIndexUnavailable, pgerrors.GetCode(err))
}
