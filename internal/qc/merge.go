package qc

import (
	"sort"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

type mergeKey struct {
	site         string
	parameter    string
	timestampKey string
}

// Merge reconciles a finished batch with the previously committed historical
// record. For each (site, parameter, timestamp) key present in both, the
// batch row wins entirely; keys only in history are retained unchanged; keys
// only in the batch are appended. Every row in the result is marked
// historical, establishing a clean baseline for the next run. The merge is
// deterministic and order-independent: output is sorted by key.
func Merge(history, batch []domain.OutputRecord) []domain.OutputRecord {
	merged := make(map[mergeKey]domain.OutputRecord, len(history)+len(batch))
	for _, rec := range history {
		merged[keyOf(rec)] = rec
	}
	for _, rec := range batch {
		merged[keyOf(rec)] = rec
	}

	out := make([]domain.OutputRecord, 0, len(merged))
	for _, rec := range merged {
		rec.Historical = true
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		if out[i].Parameter != out[j].Parameter {
			return out[i].Parameter < out[j].Parameter
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func keyOf(rec domain.OutputRecord) mergeKey {
	return mergeKey{site: rec.Site, parameter: rec.Parameter, timestampKey: rec.TimestampKey}
}

// RecentView filters the reconciled record to the trailing window for
// lightweight consumers. The cutoff is taken from the engine clock.
func RecentView(records []domain.OutputRecord, window time.Duration) []domain.OutputRecord {
	cutoff := domain.Now().Add(-window)
	out := make([]domain.OutputRecord, 0, len(records))
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}
