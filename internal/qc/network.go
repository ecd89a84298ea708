package qc

import (
	"sort"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// ApplyNetworkRules runs the layer-3 cross-site checks over every site's
// layer-2 output. Callers enforce the layer-2 barrier: all sites must be
// present, since flag prevalence is compared across the full active-site set
// per timestamp. The input is not mutated; the flattened, deterministically
// ordered result is returned.
func ApplyNetworkRules(bySite map[string][]domain.Series, p Params) []domain.Series {
	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	var out []domain.Series
	for _, site := range sites {
		for _, s := range bySite[site] {
			out = append(out, cloneSeries(s))
		}
	}

	clearNetworkEvents(out, p)
	for i := range out {
		flagSuspectWindows(&out[i], p)
	}
	for i := range out {
		pruneIsolatedSuspects(&out[i])
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Site != out[j].Key.Site {
			return out[i].Key.Site < out[j].Key.Site
		}
		return out[i].Key.Parameter < out[j].Key.Parameter
	})
	return out
}

// clearNetworkEvents removes a tag everywhere at a timestamp when it is
// present at or above the configured fraction of active sites: a synchronized
// signal across the network is a real environmental event, not sensor error.
// Sites with no observed data at the timestamp do not count as active.
func clearNetworkEvents(series []domain.Series, p Params) {
	if p.NetworkFraction <= 0 || len(p.NetworkTags) == 0 {
		return
	}

	// timestamp_key -> site -> intervals at that key
	byKey := make(map[string]map[string][]*domain.Interval)
	for si := range series {
		for ii := range series[si].Intervals {
			iv := &series[si].Intervals[ii]
			siteMap, ok := byKey[iv.TimestampKey]
			if !ok {
				siteMap = make(map[string][]*domain.Interval)
				byKey[iv.TimestampKey] = siteMap
			}
			siteMap[iv.Site] = append(siteMap[iv.Site], iv)
		}
	}

	for _, siteMap := range byKey {
		active := 0
		for _, intervals := range siteMap {
			for _, iv := range intervals {
				if iv.Mean != nil {
					active++
					break
				}
			}
		}
		if active == 0 {
			continue
		}

		for _, tag := range p.NetworkTags {
			tagged := 0
			for _, intervals := range siteMap {
				for _, iv := range intervals {
					if iv.Flags.Has(tag) {
						tagged++
						break
					}
				}
			}
			if tagged == 0 {
				continue
			}
			if float64(tagged)/float64(active) >= p.NetworkFraction {
				for _, intervals := range siteMap {
					for _, iv := range intervals {
						iv.Flags.Remove(tag)
					}
				}
			}
		}
	}
}

// flagSuspectWindows slides the suspect window over one series and marks
// unflagged intervals inside windows that are mostly flagged or mostly
// missing. Marking decisions are taken against the pre-pass flag state so a
// second run over identical input cannot cascade.
func flagSuspectWindows(s *domain.Series, p Params) {
	if p.Cadence <= 0 {
		return
	}
	window := int(p.SuspectWindow / p.Cadence)
	if window < 2 || len(s.Intervals) < window {
		return
	}

	flagged := make([]bool, len(s.Intervals))
	missing := make([]bool, len(s.Intervals))
	for i := range s.Intervals {
		flagged[i] = !s.Intervals[i].Flags.Empty()
		missing[i] = s.Intervals[i].Mean == nil
	}

	mark := make([]bool, len(s.Intervals))
	for start := 0; start+window <= len(s.Intervals); start++ {
		flaggedN, missingN := 0, 0
		for j := start; j < start+window; j++ {
			if flagged[j] {
				flaggedN++
			}
			if missing[j] {
				missingN++
			}
		}
		suspectWindow := float64(flaggedN)/float64(window) >= p.SuspectFlaggedRatio ||
			float64(missingN)/float64(window) >= p.SuspectMissingRatio
		if !suspectWindow {
			continue
		}
		for j := start; j < start+window; j++ {
			if !flagged[j] {
				mark[j] = true
			}
		}
	}

	for i := range s.Intervals {
		if mark[i] {
			s.Intervals[i].Flags.Add(domain.FlagSuspectData)
		}
	}
}

// pruneIsolatedSuspects drops a suspect tag whose immediate neighbors carry
// no flag at all: the suspicion was never corroborated. Boundary intervals
// keep the tag.
func pruneIsolatedSuspects(s *domain.Series) {
	empty := make([]bool, len(s.Intervals))
	for i := range s.Intervals {
		empty[i] = s.Intervals[i].Flags.Empty()
	}
	for i := 1; i < len(s.Intervals)-1; i++ {
		if s.Intervals[i].Flags.Has(domain.FlagSuspectData) && empty[i-1] && empty[i+1] {
			s.Intervals[i].Flags.Remove(domain.FlagSuspectData)
		}
	}
}

// ProjectBatch collapses finished series into canonical output records in
// deterministic (site, parameter, timestamp) order.
func ProjectBatch(series []domain.Series) []domain.OutputRecord {
	var records []domain.OutputRecord
	for si := range series {
		for ii := range series[si].Intervals {
			records = append(records, domain.Project(&series[si].Intervals[ii]))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Site != records[j].Site {
			return records[i].Site < records[j].Site
		}
		if records[i].Parameter != records[j].Parameter {
			return records[i].Parameter < records[j].Parameter
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records
}
