package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pgweekly/pgwsearch/internal/config"
)

func TestConfigShow_MergesProjectConfig(t *testing.T) {
	// Given: a project config selecting the static embedder
	env := newCLIEnv(t)

	// When: showing the effective config as JSON
	out, err := run(t, "config", "show", "--json")

	// Then: project values win over defaults
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, env.dataDir, cfg.Paths.DataDir)
	assert.Equal(t, []string{config.SearcherLexical}, cfg.Search.Searchers)
}

func TestConfigShow_DefaultsAsYAML(t *testing.T) {
	newCLIEnv(t)

	out, err := run(t, "config", "show", "--defaults")

	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestConfigShow_InvalidEnv(t *testing.T) {
	newCLIEnv(t)
	t.Setenv("PGWS_RRF_CONSTANT", "sixty")

	_, err := run(t, "config", "show")

	assert.Error(t, err)
}

func TestConfigInit_BackupAndRestore(t *testing.T) {
	// Given: no user config
	newCLIEnv(t)
	path := config.GetUserConfigPath()

	// When: initializing twice, the second time with --force after an edit
	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	out, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	require.NoError(t, os.WriteFile(path, []byte("search:\n  max_results: 3\n"), 0o644))
	out, err = run(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up existing config")

	// Then: the backup is listed and restoring brings the edit back
	out, err = run(t, "config", "restore", "--list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, ".bak."))

	_, err = run(t, "config", "restore")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_results: 3")
}

func TestConfigInit_Project(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.Remove(filepath.Join(env.dir, config.ProjectConfigFile)))

	_, err := run(t, "config", "init", "--project")

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(env.dir, config.ProjectConfigFile))
	assert.NoFileExists(t, config.GetUserConfigPath())
}

func TestConfigRestore_NoBackups(t *testing.T) {
	newCLIEnv(t)

	out, err := run(t, "config", "restore")

	require.NoError(t, err)
	assert.Contains(t, out, "No configuration backups found")
}

func TestConfigPath(t *testing.T) {
	env := newCLIEnv(t)

	out, err := run(t, "config", "path")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dir, ".config", "pgwsearch", "config.yaml"), strings.TrimSpace(out))
}
