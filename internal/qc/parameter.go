package qc

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// ApplyParameterRules runs the layer-1 detectors over one annotated series.
// Each rule reads only this series' fields and appends its tag when the
// condition holds; multiple tags may coexist on one interval. Intervals with
// a null mean get "missing data" and no value-dependent rule is evaluated on
// them. The input series is not mutated.
func ApplyParameterRules(s domain.Series, fieldCtx domain.FieldContext, th *domain.Thresholds, p Params, logger *slog.Logger) domain.Series {
	out := cloneSeries(s)

	visits := siteVisits(fieldCtx.Notes, s.Key.Site)

	specRange, hasSpec := th.SpecFor(s.Key.Parameter)
	if !hasSpec && logger != nil {
		logger.Debug("no spec threshold for parameter, skipping spec range check",
			"site", s.Key.Site, "parameter", s.Key.Parameter)
	}

	seasonalMissing := map[domain.Season]bool{}

	for i := range out.Intervals {
		iv := &out.Intervals[i]

		flagFieldVisit(iv, visits, p)

		if iv.Mean == nil {
			iv.Flags.Add(domain.FlagMissingData)
			continue
		}

		if hasSpec && (*iv.Mean < specRange.Min || *iv.Mean > specRange.Max) {
			iv.Flags.Add(domain.FlagOutsideSpecRange)
		}

		if sr, ok := th.SeasonalFor(iv.Site, iv.Parameter, iv.Season); ok {
			if *iv.Mean < sr.P1 || *iv.Mean > sr.P99 {
				iv.Flags.Add(domain.FlagOutsideSeasonalRange)
			}
			if iv.SlopePrev != nil && math.Abs(*iv.SlopePrev) > sr.SlopeBound {
				iv.Flags.Add(domain.FlagSlopeViolation)
			}
		} else if !seasonalMissing[iv.Season] {
			seasonalMissing[iv.Season] = true
			if logger != nil {
				logger.Debug("no seasonal threshold, skipping seasonal checks",
					"site", iv.Site, "parameter", iv.Parameter, "season", iv.Season)
			}
		}

		if iv.Parameter == domain.ParamDO {
			flagDONoise(iv, p)
		}

		flagRepeatedValue(iv, out.Intervals, i)
	}

	if out.Key.Parameter == domain.ParamDepth {
		flagDepthShift(&out, fieldCtx.Notes, p)
	}
	if domain.IsOptical(out.Key.Parameter) {
		flagDrift(&out, p)
	}

	return out
}

func cloneSeries(s domain.Series) domain.Series {
	out := domain.Series{Key: s.Key, Units: s.Units, Intervals: append([]domain.Interval(nil), s.Intervals...)}
	for i := range out.Intervals {
		out.Intervals[i].Flags = s.Intervals[i].Flags.Clone()
	}
	return out
}

// flagFieldVisit tags intervals at, around, or outside sonde employment:
// exact match with a visit interval, a [-before, +after] window around any
// visit, and sonde-not-employed state.
func flagFieldVisit(iv *domain.Interval, visits []time.Time, p Params) {
	for _, v := range visits {
		if v.Truncate(p.Cadence).Equal(iv.Timestamp) {
			iv.Flags.Add(domain.FlagSiteVisit)
		}
		if !iv.Timestamp.Before(v.Add(-p.SiteVisitBefore)) && !iv.Timestamp.After(v.Add(p.SiteVisitAfter)) {
			iv.Flags.Add(domain.FlagSiteVisitWindow)
		}
	}
	if iv.SondeEmployed != nil && !*iv.SondeEmployed {
		iv.Flags.Add(domain.FlagSondeNotEmployed)
	}
}

// flagDONoise tags dissolved-oxygen interference: a reading at or below the
// floor, or short-window volatility (stddev and slope together) above the
// noise thresholds.
func flagDONoise(iv *domain.Interval, p Params) {
	if *iv.Mean <= p.DOFloor {
		iv.Flags.Add(domain.FlagDOInterference)
		return
	}
	if iv.RollStdDev != nil && iv.RollSlope != nil &&
		*iv.RollStdDev > p.DONoiseStdDev && math.Abs(*iv.RollSlope) > p.DONoiseSlope {
		iv.Flags.Add(domain.FlagDOInterference)
	}
}

// flagRepeatedValue tags an interval whose mean exactly equals the nearest
// non-null preceding or following value.
func flagRepeatedValue(iv *domain.Interval, intervals []domain.Interval, i int) {
	for j := i - 1; j >= 0; j-- {
		if intervals[j].Mean == nil {
			continue
		}
		if *intervals[j].Mean == *iv.Mean {
			iv.Flags.Add(domain.FlagRepeatedValue)
			return
		}
		break
	}
	for j := i + 1; j < len(intervals); j++ {
		if intervals[j].Mean == nil {
			continue
		}
		if *intervals[j].Mean == *iv.Mean {
			iv.Flags.Add(domain.FlagRepeatedValue)
		}
		return
	}
}

// flagDepthShift tags the boundary interval of a step discontinuity at or
// after a reported housing adjustment. Only maintenance notes from the
// configured cutover date onward participate.
func flagDepthShift(s *domain.Series, notes []domain.FieldNote, p Params) {
	for _, n := range notes {
		if n.Site != s.Key.Site || n.NoteType != domain.NoteMaintenance {
			continue
		}
		if n.Timestamp.Before(p.DepthShiftSince) {
			continue
		}

		at := n.Timestamp.UTC()
		idx := sort.Search(len(s.Intervals), func(i int) bool {
			return !s.Intervals[i].Timestamp.Before(at)
		})
		if idx >= len(s.Intervals) {
			continue
		}
		iv := &s.Intervals[idx]
		if iv.Mean == nil || iv.PrevMean == nil {
			continue
		}
		if math.Abs(*iv.Mean-*iv.PrevMean) >= p.DepthShiftMin {
			iv.Flags.Add(domain.FlagSondeMoved)
			iv.SondeMoved = true
		}
	}
}

// flagDrift tags sustained monotonic trends on optical parameters: within the
// trailing drift window, the net change exceeds the parameter's magnitude
// bound and nearly all observed steps move in the same direction.
func flagDrift(s *domain.Series, p Params) {
	magnitude, ok := p.DriftMagnitude[s.Key.Parameter]
	if !ok || p.Cadence <= 0 {
		return
	}
	window := int(p.DriftWindow / p.Cadence)
	if window < 2 {
		return
	}

	for i := window - 1; i < len(s.Intervals); i++ {
		values := make([]float64, 0, window)
		for j := i - window + 1; j <= i; j++ {
			if s.Intervals[j].Mean != nil {
				values = append(values, *s.Intervals[j].Mean)
			}
		}
		if len(values) < window/2 || len(values) < 2 {
			continue
		}

		net := values[len(values)-1] - values[0]
		if math.Abs(net) < magnitude {
			continue
		}

		direction := 1.0
		if net < 0 {
			direction = -1.0
		}
		monotonic := 0
		steps := len(values) - 1
		for j := 1; j < len(values); j++ {
			delta := values[j] - values[j-1]
			if delta == 0 || delta*direction > 0 {
				monotonic++
			}
		}
		if float64(monotonic)/float64(steps) >= p.DriftMonotonicRatio {
			s.Intervals[i].Flags.Add(domain.FlagDrift)
		}
	}
}
