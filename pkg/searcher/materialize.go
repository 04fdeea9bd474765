package searcher

import (
	"context"

	"github.com/pgweekly/pgwsearch/internal/store"
)

// DisplayStore joins candidate ids to display records in id order.
type DisplayStore interface {
	RetrieveDisplayRecords(ctx context.Context, ids []uint64, limit int) ([]*store.DisplayRecord, error)
}

// Materialize turns a final result into display records.
//
// A result with a defined metric is ordered best first (sorting it when the
// producer did not) and cut to limit; limit <= 0 keeps everything. An
// undefined result keeps candidate order and is never truncated by limit.
// Ids unknown to the store are skipped. Each record's Value is the
// candidate's value.
func Materialize(ctx context.Context, db DisplayStore, result SearchResult, limit int) ([]*store.DisplayRecord, error) {
	cands := result.Candidates()
	if result.Metric() != MetricUndefined {
		top, err := result.Top(limit)
		if err != nil {
			return nil, err
		}
		cands = top.candidates
	}
	if len(cands) == 0 {
		return []*store.DisplayRecord{}, nil
	}

	ids := make([]uint64, len(cands))
	values := make(map[uint64]float64, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
		if _, seen := values[c.ID]; !seen {
			values[c.ID] = c.Value
		}
	}

	records, err := db.RetrieveDisplayRecords(ctx, ids, 0)
	if err != nil {
		return nil, backendError("document store", err)
	}
	for _, rec := range records {
		rec.Value = values[rec.ID]
	}
	return records, nil
}
