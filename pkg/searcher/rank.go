package searcher

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	pgerrors "github.com/pgweekly/pgwsearch/internal/errors"
)

// RankMetric says how to read Candidate.Value.
type RankMetric int

const (
	// MetricUndefined means values are not comparable; only id operations
	// such as dedupe and join are valid.
	MetricUndefined RankMetric = iota
	// MetricScore means higher is better.
	MetricScore
	// MetricDistance means lower is better.
	MetricDistance
)

func (m RankMetric) String() string {
	switch m {
	case MetricScore:
		return "score"
	case MetricDistance:
		return "distance"
	default:
		return "undefined"
	}
}

// Descending reports whether better values sort first in descending order.
// It fails for MetricUndefined.
func (m RankMetric) Descending() (bool, error) {
	switch m {
	case MetricScore:
		return true, nil
	case MetricDistance:
		return false, nil
	default:
		return false, errUndefinedMetric("order")
	}
}

// Better reports whether a ranks strictly ahead of b. It is always false
// for MetricUndefined.
func (m RankMetric) Better(a, b float64) bool {
	switch m {
	case MetricScore:
		return a > b
	case MetricDistance:
		return a < b
	default:
		return false
	}
}

func errUndefinedMetric(op string) error {
	return pgerrors.New(pgerrors.ErrCodeUndefinedMetric,
		"cannot "+op+" a result whose metric is undefined", nil)
}

// Candidate is one retrieved document and its relevance signal.
type Candidate struct {
	ID    uint64
	Value float64
}

// SearchResult is an immutable candidate set with the metric that
// interprets its values. sorted is the producer's promise that candidates
// are already arranged best first.
//
// The zero value is an empty result with MetricUndefined.
type SearchResult struct {
	candidates []Candidate
	metric     RankMetric
	sorted     bool
	warning    *PartialRerankFailure
}

// NewSearchResult copies cands, dropping NaN values.
func NewSearchResult(cands []Candidate, metric RankMetric, sorted bool) SearchResult {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if math.IsNaN(c.Value) {
			continue
		}
		out = append(out, c)
	}
	return SearchResult{candidates: out, metric: metric, sorted: sorted}
}

// EmptyResult returns an empty, unsorted result with MetricUndefined.
func EmptyResult() SearchResult {
	return SearchResult{candidates: []Candidate{}}
}

// Candidates returns a copy of the candidates in stored order.
func (r SearchResult) Candidates() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Len returns the number of candidates.
func (r SearchResult) Len() int { return len(r.candidates) }

// Metric returns how candidate values are interpreted.
func (r SearchResult) Metric() RankMetric { return r.metric }

// Sorted reports whether candidates are already stored best first.
func (r SearchResult) Sorted() bool { return r.sorted }

// IDs returns candidate ids in stored order.
func (r SearchResult) IDs() []uint64 {
	ids := make([]uint64, len(r.candidates))
	for i, c := range r.candidates {
		ids[i] = c.ID
	}
	return ids
}

// Warning returns a *PartialRerankFailure when the result is degraded,
// otherwise nil.
func (r SearchResult) Warning() error {
	if r.warning == nil {
		return nil
	}
	return r.warning
}

func (r SearchResult) withWarning(w *PartialRerankFailure) SearchResult {
	r.warning = w
	return r
}

// Ordered returns the candidates best first. A sorted result is returned
// in stored order; otherwise candidates are stably sorted by the metric
// direction with ties broken by ascending id.
func (r SearchResult) Ordered() ([]Candidate, error) {
	desc, err := r.metric.Descending()
	if err != nil {
		return nil, err
	}
	out := r.Candidates()
	if !r.sorted {
		sortCandidates(out, desc)
	}
	return out, nil
}

func sortCandidates(cands []Candidate, desc bool) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Value != b.Value {
			if desc {
				return a.Value > b.Value
			}
			return a.Value < b.Value
		}
		return a.ID < b.ID
	})
}

// Top returns a sorted result holding the best n candidates; n <= 0 keeps
// all. Undefined results cannot be truncated by value.
func (r SearchResult) Top(n int) (SearchResult, error) {
	ordered, err := r.Ordered()
	if err != nil {
		return SearchResult{}, err
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[:n]
	}
	return SearchResult{candidates: ordered, metric: r.metric, sorted: true, warning: r.warning}, nil
}

// DenseRanks assigns 1 to the best value and increments by one for each
// distinct worse value, so tied values share a rank. A repeated id keeps
// its best rank.
func (r SearchResult) DenseRanks() (map[uint64]int, error) {
	desc, err := r.metric.Descending()
	if err != nil {
		return nil, err
	}
	ordered := r.Candidates()
	sortCandidates(ordered, desc)

	ranks := make(map[uint64]int, len(ordered))
	rank := 0
	for i, c := range ordered {
		if i == 0 || c.Value != ordered[i-1].Value {
			rank++
		}
		if _, seen := ranks[c.ID]; !seen {
			ranks[c.ID] = rank
		}
	}
	return ranks, nil
}

// PartialRerankFailure marks a reranked result that lost candidates whose
// document text could not be resolved.
type PartialRerankFailure struct {
	Missing []uint64
}

func (p *PartialRerankFailure) Error() string {
	ids := make([]string, len(p.Missing))
	for i, id := range p.Missing {
		ids[i] = strconv.FormatUint(id, 10)
	}
	return fmt.Sprintf("rerank dropped %d candidates without document text: %s",
		len(p.Missing), strings.Join(ids, ", "))
}

// Unwrap lets errors.Is match errors.ErrPartialRerank.
func (p *PartialRerankFailure) Unwrap() error {
	return pgerrors.ErrPartialRerank
}
