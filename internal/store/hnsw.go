package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is the approximate nearest-neighbour index over entry embeddings,
// keyed directly by entry ID and using cosine distance.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	// live holds the keys visible to Search. coder/hnsw misbehaves when the
	// last node of a layer is deleted, so removed nodes stay in the graph.
	live map[uint64]struct{}

	closed bool
}

type hnswMetadata struct {
	Config HNSWConfig
	Live   []uint64
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive, got %d", cfg.Dimensions)
	}
	def := DefaultHNSWConfig(cfg.Dimensions)
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.Ml == 0 {
		cfg.Ml = def.Ml
	}

	return &HNSWIndex{
		graph:  newGraph(cfg),
		config: cfg,
		live:   make(map[uint64]struct{}),
	}, nil
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = cfg.Ml
	return graph
}

// LoadHNSWIndex opens an index previously written by Save.
func LoadHNSWIndex(path string) (*HNSWIndex, error) {
	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return nil, err
	}

	idx := &HNSWIndex{
		graph:  newGraph(meta.Config),
		config: meta.Config,
		live:   make(map[uint64]struct{}, len(meta.Live)),
	}
	for _, id := range meta.Live {
		idx.live[id] = struct{}{}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires io.ByteReader
	if err := idx.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return idx, nil
}

// Add inserts vectors. Re-adding an existing ID replaces its vector.
func (x *HNSWIndex) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}
	for _, v := range vectors {
		if len(v) != x.config.Dimensions {
			return ErrDimensionMismatch{Expected: x.config.Dimensions, Got: len(v)}
		}
	}

	nodes := make([]hnsw.Node[uint64], len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)
		nodes[i] = hnsw.MakeNode(id, vec)
		x.live[id] = struct{}{}
	}
	x.graph.Add(nodes...)
	return nil
}

// Search returns up to k neighbours ordered by ascending cosine distance,
// ties broken by ascending ID.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != x.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: x.config.Dimensions, Got: len(query)}
	}
	if len(x.live) == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Over-fetch so lazily deleted nodes don't shrink the result.
	nodes := x.graph.Search(q, k+x.graph.Len()-len(x.live))

	// The graph returns neighbours in traversal order, not by distance.
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := x.live[node.Key]; !ok {
			continue
		}
		d := x.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{ID: node.Key, Distance: d, Score: 1 - d})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete lazily removes vectors by ID.
func (x *HNSWIndex) Delete(ctx context.Context, ids []uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		delete(x.live, id)
	}
	return nil
}

// Count returns the number of live vectors.
func (x *HNSWIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}
	return len(x.live)
}

// Dimensions returns the vector dimension of the index.
func (x *HNSWIndex) Dimensions() int {
	return x.config.Dimensions
}

// Save persists the graph and its metadata (temp file + rename).
func (x *HNSWIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error {
		return x.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	meta := hnswMetadata{Config: x.config, Live: make([]uint64, 0, len(x.live))}
	for id := range x.live {
		meta.Live = append(meta.Live, id)
	}
	if err := writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readHNSWMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &meta, nil
}

// Close releases the graph.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.graph = nil
	return nil
}

var _ ANNIndex = (*HNSWIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// cosineSimilarity returns the cosine of the angle between a and b,
// or 0 if either is a zero vector.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
