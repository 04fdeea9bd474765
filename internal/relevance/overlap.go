package relevance

import (
	"context"
	"sort"
	"strings"

	"github.com/pgweekly/pgwsearch/internal/store"
	"github.com/pgweekly/pgwsearch/pkg/searcher"
)

// titleBoost is added per query term found in the document's first line.
const titleBoost = 0.25

// OverlapModel is a local relevance model that needs no server. A pair
// scores the share of distinct query terms present in the document, plus
// titleBoost times the share present in its title line. Stop words are
// ignored. Scores lie in [0, 1+titleBoost].
type OverlapModel struct {
	stopWords map[string]struct{}
}

var (
	_ searcher.RelevanceModel = (*OverlapModel)(nil)
	_ searcher.RankingModel   = (*OverlapModel)(nil)
)

// NewOverlapModel creates a term-overlap model using the default stop words.
func NewOverlapModel() *OverlapModel {
	return &OverlapModel{stopWords: store.BuildStopWordMap(store.DefaultStopWords)}
}

func (m *OverlapModel) terms(text string) []string {
	return store.UniqueTerms(store.FilterStopWords(store.Tokenize(text), m.stopWords))
}

func (m *OverlapModel) score(queryTerms []string, doc string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	title, _, _ := strings.Cut(doc, "\n")
	inDoc := termSet(store.Tokenize(doc))
	inTitle := termSet(store.Tokenize(title))

	var body, head int
	for _, t := range queryTerms {
		if _, ok := inDoc[t]; ok {
			body++
		}
		if _, ok := inTitle[t]; ok {
			head++
		}
	}
	n := float64(len(queryTerms))
	return float64(body)/n + titleBoost*float64(head)/n
}

func termSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// ScorePairs scores every pair in input order.
func (m *OverlapModel) ScorePairs(ctx context.Context, pairs []searcher.Pair) ([]float64, error) {
	scores := make([]float64, len(pairs))
	cache := make(map[string][]string)
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		qt, ok := cache[p.Query]
		if !ok {
			qt = m.terms(p.Query)
			cache[p.Query] = qt
		}
		scores[i] = m.score(qt, p.Document)
	}
	return scores, nil
}

// Rank orders docs by score, ties by input position.
func (m *OverlapModel) Rank(ctx context.Context, query string, docs []string, topK int) ([]searcher.Ranked, error) {
	qt := m.terms(query)
	ranked := make([]searcher.Ranked, len(docs))
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ranked[i] = searcher.Ranked{Index: i, Score: m.score(qt, d)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}
