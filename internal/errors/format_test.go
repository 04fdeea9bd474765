package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	// Given: an error with a cause and suggestion
	err := New(ErrCodeIndexUnavailable, "no ANN index for model", errors.New("index_filename is NULL")).
		WithSuggestion("Run 'pgwsearch index'")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, cause, hint and code are all present
	assert.Contains(t, out, "Error: no ANN index for model")
	assert.Contains(t, out, "Cause: index_filename is NULL")
	assert.Contains(t, out, "Hint: Run 'pgwsearch index'")
	assert.Contains(t, out, "Code: ERR_207_INDEX_UNAVAILABLE")
}

func TestFormatForCLI_PlainErrorAndNil(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
	assert.Contains(t, FormatForCLI(errors.New("boom")), "Code: ERR_501_INTERNAL")
}

func TestFormatJSON(t *testing.T) {
	err := New(ErrCodeBackendUnavailable, "store offline", errors.New("dial tcp")).WithDetail("backend", "sqlite")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ERR_301_BACKEND_UNAVAILABLE", got["code"])
	assert.Equal(t, "BACKEND", got["category"])
	assert.Equal(t, true, got["retryable"])
	assert.Equal(t, "dial tcp", got["cause"])
	assert.Equal(t, map[string]any{"backend": "sqlite"}, got["details"])
}

func TestLogAttrs(t *testing.T) {
	assert.Nil(t, LogAttrs(nil))
	assert.Equal(t, []any{"error", "plain"}, LogAttrs(errors.New("plain")))

	attrs := LogAttrs(New(ErrCodePartialRerank, "2 candidates dropped", nil))
	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodePartialRerank)
}
