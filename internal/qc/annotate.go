package qc

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// Annotate joins field-note context onto a series and computes the derived
// statistics later rules read: season label, last site visit, sonde employed
// state, lag/lead values and slopes, and the trailing rolling
// median/mean/slope/stddev. The input is not mutated; annotated copies are
// returned. Derived fields are read-only inputs to rule evaluation and are
// never touched downstream.
func Annotate(s domain.Series, fieldCtx domain.FieldContext, rollWindow int) domain.Series {
	out := domain.Series{Key: s.Key, Units: s.Units, Intervals: append([]domain.Interval(nil), s.Intervals...)}

	visits := siteVisits(fieldCtx.Notes, s.Key.Site)
	states := employmentStates(fieldCtx.Notes, s.Key.Site)

	for i := range out.Intervals {
		iv := &out.Intervals[i]
		iv.Season = domain.SeasonOf(iv.Timestamp)

		if v, ok := lastAtOrBefore(visits, iv.Timestamp); ok {
			t := v
			iv.LastSiteVisit = &t
		}
		if employed, ok := employedAt(states, iv.Timestamp); ok {
			e := employed
			iv.SondeEmployed = &e
		}

		if i > 0 {
			iv.PrevMean = out.Intervals[i-1].Mean
			if iv.Mean != nil && iv.PrevMean != nil {
				slope := *iv.Mean - *iv.PrevMean
				iv.SlopePrev = &slope
			}
		}
		if i < len(out.Intervals)-1 {
			iv.NextMean = out.Intervals[i+1].Mean
			if iv.Mean != nil && iv.NextMean != nil {
				slope := *iv.NextMean - *iv.Mean
				iv.SlopeNext = &slope
			}
		}

		annotateRolling(out.Intervals, i, rollWindow)
	}
	return out
}

// annotateRolling fills the trailing-window statistics for interval i.
// Windows with fewer than two observed values yield no statistics.
func annotateRolling(intervals []domain.Interval, i, window int) {
	start := i - window + 1
	if start < 0 {
		start = 0
	}

	values := make([]float64, 0, window)
	firstIdx, lastIdx := -1, -1
	for j := start; j <= i; j++ {
		if intervals[j].Mean == nil {
			continue
		}
		values = append(values, *intervals[j].Mean)
		if firstIdx == -1 {
			firstIdx = j
		}
		lastIdx = j
	}
	if len(values) < 2 {
		return
	}

	iv := &intervals[i]
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)

	med := median(values)
	slope := (values[len(values)-1] - values[0]) / float64(lastIdx-firstIdx)

	iv.RollMean = &mean
	iv.RollStdDev = &stddev
	iv.RollMedian = &med
	iv.RollSlope = &slope
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// siteVisits collects the known visit timestamps for a site, from both
// site-visit notes and the last_site_visit field other note types carry.
func siteVisits(notes []domain.FieldNote, site string) []time.Time {
	var visits []time.Time
	for _, n := range notes {
		if n.Site != site {
			continue
		}
		if n.NoteType == domain.NoteSiteVisit {
			visits = append(visits, n.Timestamp.UTC())
		}
		if !n.LastSiteVisit.IsZero() {
			visits = append(visits, n.LastSiteVisit.UTC())
		}
	}
	sort.Slice(visits, func(i, j int) bool { return visits[i].Before(visits[j]) })
	return visits
}

type employmentState struct {
	at       time.Time
	employed bool
}

func employmentStates(notes []domain.FieldNote, site string) []employmentState {
	var states []employmentState
	for _, n := range notes {
		if n.Site != site || n.NoteType != domain.NoteSondeEmployed || n.SondeEmployed == nil {
			continue
		}
		states = append(states, employmentState{at: n.Timestamp.UTC(), employed: *n.SondeEmployed})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].at.Before(states[j].at) })
	return states
}

func lastAtOrBefore(visits []time.Time, t time.Time) (time.Time, bool) {
	idx := sort.Search(len(visits), func(i int) bool { return visits[i].After(t) })
	if idx == 0 {
		return time.Time{}, false
	}
	return visits[idx-1], true
}

func employedAt(states []employmentState, t time.Time) (bool, bool) {
	idx := sort.Search(len(states), func(i int) bool { return states[i].at.After(t) })
	if idx == 0 {
		return false, false
	}
	return states[idx-1].employed, true
}
