package qc

import (
	"sort"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// rawKey identifies an exact raw tuple for deduplication.
type rawKey struct {
	site      string
	parameter string
	unixNano  int64
	value     float64
	units     string
}

// bucket accumulates observations falling into one cadence interval.
type bucket struct {
	sum   float64
	n     int
	min   float64
	max   float64
	units string
}

// Normalize resamples raw irregular-interval measurements onto the fixed
// cadence, producing one series per (site, parameter) with no gaps: exact
// duplicate tuples are dropped, values in the same interval are averaged with
// n_obs and spread (max-min) recorded, and missing intervals are padded with
// null-mean rows. Out-of-order input is tolerated; bucketing re-sorts it.
// Series are returned in deterministic (site, parameter) order.
func Normalize(raw []domain.RawMeasurement, cadence time.Duration) []domain.Series {
	seen := make(map[rawKey]struct{}, len(raw))
	grouped := make(map[domain.SeriesKey]map[time.Time]*bucket)

	for _, m := range raw {
		ts := m.Timestamp.UTC()
		k := rawKey{site: m.Site, parameter: m.Parameter, unixNano: ts.UnixNano(), value: m.Value, units: m.Units}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		sk := domain.SeriesKey{Site: m.Site, Parameter: m.Parameter}
		buckets, ok := grouped[sk]
		if !ok {
			buckets = make(map[time.Time]*bucket)
			grouped[sk] = buckets
		}

		slot := ts.Truncate(cadence)
		b, ok := buckets[slot]
		if !ok {
			buckets[slot] = &bucket{sum: m.Value, n: 1, min: m.Value, max: m.Value, units: m.Units}
			continue
		}
		b.sum += m.Value
		b.n++
		if m.Value < b.min {
			b.min = m.Value
		}
		if m.Value > b.max {
			b.max = m.Value
		}
	}

	keys := make([]domain.SeriesKey, 0, len(grouped))
	for sk := range grouped {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Site != keys[j].Site {
			return keys[i].Site < keys[j].Site
		}
		return keys[i].Parameter < keys[j].Parameter
	})

	out := make([]domain.Series, 0, len(keys))
	for _, sk := range keys {
		out = append(out, buildSeries(sk, grouped[sk], cadence))
	}
	return out
}

// buildSeries pads one bucketed group to full cadence between its first and
// last occupied interval.
func buildSeries(sk domain.SeriesKey, buckets map[time.Time]*bucket, cadence time.Duration) domain.Series {
	var first, last time.Time
	var units string
	for slot, b := range buckets {
		if first.IsZero() || slot.Before(first) {
			first = slot
		}
		if slot.After(last) {
			last = slot
		}
		if units == "" {
			units = b.units
		}
	}

	s := domain.Series{Key: sk, Units: units}
	for slot := first; !slot.After(last); slot = slot.Add(cadence) {
		iv := domain.Interval{
			Timestamp:    slot,
			TimestampKey: domain.TimestampKey(slot),
			Site:         sk.Site,
			Parameter:    sk.Parameter,
			Units:        units,
		}
		if b, ok := buckets[slot]; ok {
			mean := b.sum / float64(b.n)
			iv.Mean = &mean
			iv.NObs = b.n
			iv.Spread = b.max - b.min
		}
		s.Intervals = append(s.Intervals, iv)
	}
	return s
}
