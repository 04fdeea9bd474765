// Package store provides the persistence layer for indexed newsletter data:
// the SQLite document and embedding store, the BM25 lexical indexes (SQLite
// FTS5 or Bleve) and the HNSW nearest-neighbour index.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// DateLayout is the display format for issue publish dates.
const DateLayout = "2006-01-02"

// Issue is one published newsletter issue.
type Issue struct {
	ID          int64     // Issue number as printed on the newsletter
	PublishedAt time.Time // Publish date (UTC, day precision)
	Link        string    // Absolute URL of the issue page
}

// Entry is a retrievable unit: one linked article inside an issue.
type Entry struct {
	ID         uint64
	IssueID    int64
	Title      string
	Author     string
	Content    string // May be empty
	MainLink   string
	OtherLinks []string
	Tag        string
}

// Text returns the document text used for embedding and reranking.
func (e *Entry) Text() string {
	return DocText(e.Title, e.Content)
}

// DocText joins title and content the way every index sees a document.
func DocText(title, content string) string {
	return title + "\n" + content
}

// EmbeddingSpace describes one registered embedding model and its artifacts.
type EmbeddingSpace struct {
	ID             int64
	ModelName      string
	NormalizedName string
	Dimension      int
	// IndexFilename is the ANN artifact path, empty when none was built.
	IndexFilename string
}

var modelNameSeparators = regexp.MustCompile(`[-\s/]+`)

// NormalizeModelName makes a model name safe for use in file names:
// runs of dashes, whitespace and slashes become a single dash.
func NormalizeModelName(model string) string {
	return modelNameSeparators.ReplaceAllString(model, "-")
}

// DisplayRecord is the materialized form of a result shown to users.
type DisplayRecord struct {
	ID          uint64  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author,omitempty"`
	Content     string  `json:"content"`
	Link        string  `json:"link"`
	PublishedAt string  `json:"published_at"`
	Value       float64 `json:"value"`
}

// DocumentStore is the read side used by the search pipeline.
// Implementations must be safe for concurrent readers.
type DocumentStore interface {
	// LookupEmbeddingSpace returns ErrNotFound if the model was never registered.
	LookupEmbeddingSpace(ctx context.Context, modelName string) (*EmbeddingSpace, error)

	// RetrieveDisplayRecords returns records in the order of ids, skipping
	// unknown ids. limit <= 0 means no limit.
	RetrieveDisplayRecords(ctx context.Context, ids []uint64, limit int) ([]*DisplayRecord, error)

	// RetrieveDocText maps each known id to its document text.
	// Unknown ids are absent from the map.
	RetrieveDocText(ctx context.Context, ids []uint64) (map[uint64]string, error)

	// ExactSearch scans every stored vector of the space and returns the k
	// most similar by cosine similarity, best first. k <= 0 means all.
	ExactSearch(ctx context.Context, spaceID int64, query []float32, k int) ([]*VectorResult, error)
}

// CatalogWriter is the write side used by ingestion.
type CatalogWriter interface {
	SaveIssues(ctx context.Context, issues []*Issue) error
	SaveEntries(ctx context.Context, entries []*Entry) error
	ListEntries(ctx context.Context) ([]*Entry, error)
	RegisterEmbeddingSpace(ctx context.Context, modelName string, dimension int) (*EmbeddingSpace, error)
	SaveEmbeddings(ctx context.Context, spaceID int64, ids []uint64, vectors [][]float32) error
	SetIndexFilename(ctx context.Context, spaceID int64, filename string) error
}

// Document is a document to be indexed in BM25.
type Document struct {
	ID      uint64
	Content string
}

// BM25Result is a single BM25 search result.
// Score is positive; higher is more relevant.
type BM25Result struct {
	DocID        uint64
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 ranking.
type BM25Index interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*Document) error

	// Search returns every document matching at least one query term.
	// limit <= 0 means uncapped. Order is unspecified.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []uint64) error

	// AllIDs returns all document IDs in the index.
	AllIDs() ([]uint64, error)

	Stats() *IndexStats

	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"has", "how", "in", "into", "is", "it", "its", "of", "on", "or", "that",
	"the", "their", "this", "to", "was", "what", "when", "which", "with", "you", "your",
}

// VectorResult is a single nearest-neighbour result.
type VectorResult struct {
	ID       uint64
	Distance float32 // Cosine distance, lower is more similar (0-2)
	Score    float32 // Cosine similarity, higher is more similar (-1..1)
}

// HNSWConfig configures the approximate nearest-neighbour index.
type HNSWConfig struct {
	Dimensions int

	// M is max connections per layer (default: 16)
	M int

	// EfSearch is query-time search width (default: 50)
	EfSearch int

	// Ml is the level generation factor (default: 0.25)
	Ml float64
}

// DefaultHNSWConfig returns sensible defaults.
func DefaultHNSWConfig(dimensions int) HNSWConfig {
	return HNSWConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   50,
		Ml:         0.25,
	}
}

// ANNIndex answers nearest-neighbour queries.
type ANNIndex interface {
	// Search returns up to k neighbours ordered by ascending distance.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Count() int
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-run 'pgwsearch index')", e.Expected, e.Got)
}
