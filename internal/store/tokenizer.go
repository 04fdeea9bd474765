package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLength is the shortest token kept by Tokenize.
const minTokenLength = 2

// Tokenize splits newsletter prose into lowercase terms.
// Words are runs of letters, digits and underscores. Identifiers such as
// "pg_stat_statements" are kept whole and also contribute their parts, so
// both "pg_stat_statements" and "statements" match.
func Tokenize(text string) []string {
	// Return empty slice, not nil, for consistent API behavior
	tokens := []string{}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, word := range words {
		word = strings.ToLower(strings.Trim(word, "_"))
		if utf8.RuneCountInString(word) < minTokenLength {
			continue
		}
		tokens = append(tokens, word)
		if !strings.Contains(word, "_") {
			continue
		}
		for _, part := range strings.Split(word, "_") {
			if utf8.RuneCountInString(part) >= minTokenLength {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

// UniqueTerms returns tokens in first-seen order without repeats.
func UniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
