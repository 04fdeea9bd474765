package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "whitespace",
			input:  "hello world",
			expect: []string{"hello", "world"},
		},
		{
			name:   "punctuation and case",
			input:  "Postgres 17: What's New?",
			expect: []string{"postgres", "17", "what", "new"},
		},
		{
			name:   "identifier kept whole plus parts",
			input:  "Tuning pg_stat_statements",
			expect: []string{"tuning", "pg_stat_statements", "pg", "stat", "statements"},
		},
		{
			name:   "short tokens dropped",
			input:  "a b cd",
			expect: []string{"cd"},
		},
		{
			name:   "non-ascii letters",
			input:  "Größe über",
			expect: []string{"größe", "über"},
		},
		{
			name:   "empty",
			input:  "",
			expect: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input))
		})
	}
}

func TestUniqueTerms_PreservesFirstSeenOrder(t *testing.T) {
	assert.Equal(t, []string{"vacuum", "autovacuum"}, UniqueTerms([]string{"vacuum", "autovacuum", "vacuum"}))
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap(DefaultStopWords)

	got := FilterStopWords(Tokenize("The state of the Postgres ecosystem"), stop)

	assert.Equal(t, []string{"state", "postgres", "ecosystem"}, got)
}
