package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	assert.Regexp(t, semver, Version)
}

func TestString(t *testing.T) {
	s := String()

	assert.Contains(t, s, "pgwsearch "+Version)
	assert.Contains(t, s, "commit: "+Commit)
	assert.Contains(t, s, runtime.Version())
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given: build info with a linked commit
	old := Commit
	Commit = "abc1234"
	t.Cleanup(func() { Commit = old })

	// When: encoding it
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	// Then: all fields are present under snake_case keys
	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "abc1234", got["commit"])
	assert.Equal(t, runtime.GOOS, got["os"])
	for _, key := range []string{"version", "date", "go_version", "arch"} {
		assert.Contains(t, got, key)
	}
}
