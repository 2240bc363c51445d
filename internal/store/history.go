package store

import "github.com/punchamoorthee/adauction/internal/domain"

// filterHistory applies q to bids, which must be in ascending sequence order.
func filterHistory(bids []domain.BidRecord, current uint64, q domain.HistoryQuery) []domain.BidRecord {
	out := make([]domain.BidRecord, 0, len(bids))
	for _, b := range bids {
		if b.SequenceID < q.From {
			continue
		}
		if q.To != 0 && b.SequenceID > q.To {
			break
		}
		if q.ExcludeCurrent && b.SequenceID == current {
			continue
		}
		out = append(out, b)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
