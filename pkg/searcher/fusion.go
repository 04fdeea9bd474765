package searcher

import (
	"strconv"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// DefaultRRFConstant is the RRF smoothing constant k.
const DefaultRRFConstant = 60

// FusionMethod merges one or more candidate sets into one. Inputs are never
// modified. Fusing zero inputs fails with errors.ErrEmptyFusionInput.
type FusionMethod interface {
	Fuse(results []SearchResult) (SearchResult, error)
}

func errEmptyFusionInput() error {
	return pgerrors.New(pgerrors.ErrCodeEmptyFusionInput, "fusion requires at least one input", nil)
}

// ChainFusion concatenates its inputs and keeps the first occurrence of each
// id in input order. The output is MetricUndefined and unsorted, meant as a
// candidate pool for a reranker.
type ChainFusion struct{}

var _ FusionMethod = ChainFusion{}

// Fuse concatenates and deduplicates results.
func (ChainFusion) Fuse(results []SearchResult) (SearchResult, error) {
	if len(results) == 0 {
		return SearchResult{}, errEmptyFusionInput()
	}

	total := 0
	for _, r := range results {
		total += r.Len()
	}
	seen := make(map[uint64]struct{}, total)
	out := make([]Candidate, 0, total)
	for _, r := range results {
		for _, c := range r.candidates {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return SearchResult{candidates: out, metric: MetricUndefined}, nil
}

// ReciprocalRankFusion scores each id by the sum over inputs of
// 1/(k+rank), where rank is the id's dense rank within that input under the
// input's own metric. An id missing from an input contributes 0 for it.
//
// The output is MetricScore and unsorted; callers sort before truncating.
type ReciprocalRankFusion struct {
	k int
}

var _ FusionMethod = ReciprocalRankFusion{}

// NewReciprocalRankFusion returns RRF with constant k; k <= 0 selects
// DefaultRRFConstant.
func NewReciprocalRankFusion(k int) ReciprocalRankFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return ReciprocalRankFusion{k: k}
}

// K returns the smoothing constant.
func (f ReciprocalRankFusion) K() int {
	if f.k <= 0 {
		return DefaultRRFConstant
	}
	return f.k
}

// Fuse combines the rankings. An empty input contributes nothing, whatever
// its metric; a non-empty MetricUndefined input cannot be ranked and fails
// with errors.ErrUndefinedMetric.
func (f ReciprocalRankFusion) Fuse(results []SearchResult) (SearchResult, error) {
	if len(results) == 0 {
		return SearchResult{}, errEmptyFusionInput()
	}
	k := float64(f.K())

	scores := make(map[uint64]float64)
	var order []uint64
	for i, r := range results {
		if r.Len() == 0 {
			continue
		}
		ranks, err := r.DenseRanks()
		if err != nil {
			return SearchResult{}, pgerrors.New(pgerrors.ErrCodeUndefinedMetric,
				"reciprocal rank fusion cannot rank an input with undefined metric", err).
				WithDetail("input", strconv.Itoa(i))
		}
		// Walk candidates rather than the map so output order is reproducible.
		for _, c := range r.candidates {
			rank, ok := ranks[c.ID]
			if !ok {
				continue
			}
			delete(ranks, c.ID)
			if _, known := scores[c.ID]; !known {
				order = append(order, c.ID)
			}
			scores[c.ID] += 1 / (k + float64(rank))
		}
	}

	out := make([]Candidate, len(order))
	for i, id := range order {
		out[i] = Candidate{ID: id, Value: scores[id]}
	}
	return SearchResult{candidates: out, metric: MetricScore}, nil
}
