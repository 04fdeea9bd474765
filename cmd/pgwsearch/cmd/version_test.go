package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgweekly/pgwsearch/pkg/version"
)

func TestVersionCmd(t *testing.T) {
	newCLIEnv(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Contains(t, out, "pgwsearch "+version.Version)
			assert.Contains(t, out, "commit")
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Version, strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info map[string]string
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.Version, info["version"])
			assert.Contains(t, info, "go_version")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"version"}, tt.args...)...)

			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}
