package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
	"github.com/pgweekly/pgwsearch/internal/store"
)

func sampleRecords() []*store.DisplayRecord {
	return []*store.DisplayRecord{
		{ID: 3, Title: "Tuning autovacuum", Author: "Ben", Link: "https://example.com/3",
			Content: "Autovacuum   thresholds\nfor large tables.", PublishedAt: "2024-09-09", Value: 0.91},
		{ID: 1, Title: "Logical replication", Link: "https://example.com/1",
			PublishedAt: "2024-09-02", Value: 0.5},
	}
}

func TestWriter_StatusLines(t *testing.T) {
	// Given: a writer to a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing each kind of status line
	w.Statusf("", "Loaded %d entries", 4)
	w.Success("Index complete")
	w.Warning("rerank dropped 1 candidates")
	w.Error("catalog not found")

	// Then: messages appear unstyled since the buffer is not a terminal
	out := buf.String()
	assert.False(t, w.Color())
	assert.Contains(t, out, "   Loaded 4 entries\n")
	assert.Contains(t, out, "✓ Index complete\n")
	assert.Contains(t, out, "! rerank dropped 1 candidates\n")
	assert.Contains(t, out, "✗ catalog not found\n")
	assert.NotContains(t, out, "\x1b[")
}

func TestWriter_Progress_PlainPrintsOnlyCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(1, 4, "embed")
	w.Progress(0, 0, "nothing")
	assert.Empty(t, buf.String())

	w.Progress(4, 4, "embed")
	assert.Contains(t, buf.String(), "100% embed\n")
	assert.NotContains(t, buf.String(), "\r")
}

func TestWriter_Progress_ColorRedrawsInPlace(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	w.Progress(2, 4, "lexical")

	assert.True(t, strings.HasPrefix(buf.String(), "\r["))
	assert.Contains(t, buf.String(), " 50% lexical")
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over total", 150, 100, 10, 10},
		{"zero total", 5, 0, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Results_Text(t *testing.T) {
	// Given: two score-ranked records
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: rendering them
	w.Results(ResultSet{Query: "vacuum", Metric: "score", Records: sampleRecords()})

	// Then: a header, numbered titles, metadata and a collapsed snippet
	out := buf.String()
	assert.Contains(t, out, `Found 2 results for "vacuum"`)
	assert.Contains(t, out, "1. Tuning autovacuum\n   2024-09-09 · Ben · score 0.9100\n   https://example.com/3\n")
	assert.Contains(t, out, "   Autovacuum thresholds for large tables.\n")
	assert.Contains(t, out, "2. Logical replication\n   2024-09-02 · score 0.5000\n")
	assert.Less(t, strings.Index(out, "Tuning"), strings.Index(out, "Logical"))
}

func TestWriter_Results_UndefinedMetricAndWarning(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Results(ResultSet{
		Query:   "q",
		Metric:  "undefined",
		Warning: "rerank dropped 1 candidates without document text: 7",
		Records: sampleRecords()[:1],
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "! rerank dropped"))
	assert.Contains(t, out, "Found 1 result for")
	assert.NotContains(t, out, "undefined")
}

func TestWriter_Results_Empty(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Results(ResultSet{Query: "nothing here", Metric: "score"})

	assert.Equal(t, "   No results found for \"nothing here\"\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, WriteJSON(buf, ResultSet{Query: "vacuum", Metric: "distance", Records: sampleRecords()}))

	var got struct {
		Query   string `json:"query"`
		Metric  string `json:"metric"`
		Results []struct {
			ID          uint64  `json:"id"`
			PublishedAt string  `json:"published_at"`
			Value       float64 `json:"value"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "distance", got.Metric)
	require.Len(t, got.Results, 2)
	assert.Equal(t, uint64(3), got.Results[0].ID)
	assert.Equal(t, "2024-09-09", got.Results[0].PublishedAt)
	assert.NotContains(t, buf.String(), "warning")
}

func TestWriteJSON_EmptyIsArray(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, WriteJSON(buf, ResultSet{Query: "q", Metric: "score"}))

	assert.Contains(t, buf.String(), `"results": []`)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("yaml")
	assert.Equal(t, pgerrors.CategoryValidation, pgerrors.GetCategory(err))
}

func TestFirstRunes(t *testing.T) {
	assert.Equal(t, "a b", firstRunes("  a\n\tb ", 10))
	assert.Equal(t, "ééé…", firstRunes("éééé", 3))
	assert.Empty(t, firstRunes("", 3))
}
