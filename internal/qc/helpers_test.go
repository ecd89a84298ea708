package qc

import (
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

var testStart = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

// mkSeries builds a fixed-cadence series from means; a nil entry is a gap row.
func mkSeries(site, parameter string, start time.Time, cadence time.Duration, means []*float64) domain.Series {
	s := domain.Series{Key: domain.SeriesKey{Site: site, Parameter: parameter}}
	for i, m := range means {
		ts := start.Add(time.Duration(i) * cadence)
		iv := domain.Interval{
			Timestamp:    ts,
			TimestampKey: domain.TimestampKey(ts),
			Site:         site,
			Parameter:    parameter,
			Mean:         m,
		}
		if m != nil {
			iv.NObs = 1
		}
		s.Intervals = append(s.Intervals, iv)
	}
	return s
}

func emptyThresholds() *domain.Thresholds {
	return &domain.Thresholds{
		Spec:     map[string]domain.SpecRange{},
		Seasonal: map[domain.SeasonalKey]domain.SeasonalRange{},
	}
}
