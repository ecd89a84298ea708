package qc

import (
	"math"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// siteIndex joins all of one site's parameter series by exact timestamp key.
// A timestamp missing from one parameter simply does not participate in
// cross-parameter checks for that key.
type siteIndex struct {
	series []domain.Series
	byKey  map[string]map[string]*domain.Interval // timestamp_key -> parameter -> interval
}

func indexSite(series []domain.Series) *siteIndex {
	idx := &siteIndex{series: series, byKey: make(map[string]map[string]*domain.Interval)}
	for si := range series {
		for ii := range series[si].Intervals {
			iv := &series[si].Intervals[ii]
			params, ok := idx.byKey[iv.TimestampKey]
			if !ok {
				params = make(map[string]*domain.Interval)
				idx.byKey[iv.TimestampKey] = params
			}
			params[iv.Parameter] = iv
		}
	}
	return idx
}

func (idx *siteIndex) at(key, parameter string) *domain.Interval {
	if params, ok := idx.byKey[key]; ok {
		return params[parameter]
	}
	return nil
}

// ApplySiteRules runs the layer-2 cross-parameter checks for one site over
// its layer-1 output. All of the site's parameter series must be present;
// callers enforce the layer-1 barrier. The input series are not mutated.
func ApplySiteRules(series []domain.Series, fieldCtx domain.FieldContext, th *domain.Thresholds, p Params) []domain.Series {
	out := make([]domain.Series, len(series))
	for i := range series {
		out[i] = cloneSeries(series[i])
	}
	idx := indexSite(out)

	flagFrozen(idx)
	suppressExplainedSlopes(idx, th, p)
	flagBurial(idx, p)
	flagUnsubmerged(idx)
	applyMalfunctions(out, fieldCtx.Malfunctions)

	return out
}

// flagFrozen tags every parameter at a timestamp where temperature is at or
// below freezing.
func flagFrozen(idx *siteIndex) {
	for key, params := range idx.byKey {
		temp, ok := params[domain.ParamTemperature]
		if !ok || temp.Mean == nil || *temp.Mean > 0 {
			continue
		}
		for _, iv := range idx.byKey[key] {
			iv.Flags.Add(domain.FlagFrozen)
		}
	}
}

// suppressExplainedSlopes removes a slope violation on a non-temperature,
// non-depth parameter when temperature or depth shows a large concurrent
// slope at the same timestamp: the change reflects a real physical event,
// not sensor error. "Large" means beyond the reference series' seasonal
// slope bound, or the configured fallback when no bound exists.
func suppressExplainedSlopes(idx *siteIndex, th *domain.Thresholds, p Params) {
	for key, params := range idx.byKey {
		for parameter, iv := range params {
			if parameter == domain.ParamTemperature || parameter == domain.ParamDepth {
				continue
			}
			if !iv.Flags.Has(domain.FlagSlopeViolation) {
				continue
			}
			if referenceSlopeLarge(idx, key, domain.ParamTemperature, th, p) ||
				referenceSlopeLarge(idx, key, domain.ParamDepth, th, p) {
				iv.Flags.Remove(domain.FlagSlopeViolation)
			}
		}
	}
}

func referenceSlopeLarge(idx *siteIndex, key, parameter string, th *domain.Thresholds, p Params) bool {
	ref := idx.at(key, parameter)
	if ref == nil || ref.SlopePrev == nil {
		return false
	}
	bound := p.IntersensorSlopeFallback
	if sr, ok := th.SeasonalFor(ref.Site, parameter, ref.Season); ok {
		bound = sr.SlopeBound
	}
	return math.Abs(*ref.SlopePrev) > bound
}

// flagBurial tags all parameters with "possible burial" for the duration of
// any run of continuous DO interference lasting at least the burial duration.
func flagBurial(idx *siteIndex, p Params) {
	var doSeries *domain.Series
	for i := range idx.series {
		if idx.series[i].Key.Parameter == domain.ParamDO {
			doSeries = &idx.series[i]
			break
		}
	}
	if doSeries == nil || p.Cadence <= 0 {
		return
	}
	need := int(p.BurialDuration / p.Cadence)
	if need < 1 {
		need = 1
	}

	runStart := -1
	intervals := doSeries.Intervals
	for i := 0; i <= len(intervals); i++ {
		inRun := i < len(intervals) && intervals[i].Flags.Has(domain.FlagDOInterference)
		if inRun {
			if runStart == -1 {
				runStart = i
			}
			continue
		}
		if runStart != -1 && i-runStart >= need {
			for j := runStart; j < i; j++ {
				for _, iv := range idx.byKey[intervals[j].TimestampKey] {
					iv.Flags.Add(domain.FlagPossibleBurial)
				}
			}
		}
		runStart = -1
	}
}

// flagUnsubmerged tags all parameters at timestamps where relative depth is
// at or below zero.
func flagUnsubmerged(idx *siteIndex) {
	for key, params := range idx.byKey {
		depth, ok := params[domain.ParamDepth]
		if !ok || depth.Mean == nil || *depth.Mean > 0 {
			continue
		}
		for _, iv := range idx.byKey[key] {
			iv.Flags.Add(domain.FlagSondeUnsubmerged)
		}
	}
}

// applyMalfunctions sets the reported-malfunction tag on every interval a
// malfunction record overlaps, scoped to the record's parameter when given
// and to all parameters otherwise.
func applyMalfunctions(series []domain.Series, records []domain.MalfunctionRecord) {
	for _, rec := range records {
		for si := range series {
			s := &series[si]
			if s.Key.Site != rec.Site {
				continue
			}
			if rec.Parameter != "" && s.Key.Parameter != rec.Parameter {
				continue
			}
			for ii := range s.Intervals {
				if rec.Overlaps(s.Intervals[ii].Timestamp) {
					s.Intervals[ii].Malfunction = rec.Tag()
				}
			}
		}
	}
}
