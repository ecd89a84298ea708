package domain

import (
	"strings"
	"time"
)

// Flag is one tag from the closed quality-concern taxonomy.
type Flag string

// Layer-1 parameter rule tags.
const (
	FlagSiteVisit            Flag = "site visit"
	FlagSiteVisitWindow      Flag = "sv window"
	FlagSondeNotEmployed     Flag = "sonde not employed"
	FlagOutsideSpecRange     Flag = "outside of sensor specification range"
	FlagOutsideSeasonalRange Flag = "outside of seasonal range"
	FlagSlopeViolation       Flag = "slope violation"
	FlagMissingData          Flag = "missing data"
	FlagDOInterference       Flag = "do interference"
	FlagRepeatedValue        Flag = "repeated value"
	FlagSondeMoved           Flag = "sonde moved"
	FlagDrift                Flag = "drift"
)

// Layer-2 site consistency tags.
const (
	FlagFrozen           Flag = "frozen"
	FlagPossibleBurial   Flag = "possible burial"
	FlagSondeUnsubmerged Flag = "sonde unsubmerged"
)

// Layer-3 network tags.
const (
	FlagSuspectData Flag = "suspect data"
)

// Technician-reported malfunction tags, carried on malfunction_flag rather
// than the flags set.
const (
	FlagReportedBurial           Flag = "reported sonde burial"
	FlagReportedBiofouling       Flag = "reported sensor biofouling"
	FlagReportedDepthCalibration Flag = "reported depth calibration malfunction"
	FlagReportedUnsubmerged      Flag = "reported sonde unsubmerged"
	FlagReportedMalfunction      Flag = "reported sensor malfunction"
)

// Canonical parameter names used across the network.
const (
	ParamTemperature = "temperature"
	ParamDepth       = "depth"
	ParamDO          = "dissolved oxygen"
	ParamPH          = "ph"
	ParamConductance = "specific conductance"
	ParamTurbidity   = "turbidity"
	ParamFDOM        = "fdom"
	ParamChlorophyll = "chlorophyll a"
)

// IsOptical reports whether the parameter is measured optically and therefore
// subject to fouling drift (sustained monotonic trends).
func IsOptical(parameter string) bool {
	switch parameter {
	case ParamTurbidity, ParamFDOM, ParamChlorophyll:
		return true
	}
	return false
}

// Season is one of four calendar-derived hydrologic regimes.
type Season string

const (
	SeasonWinterBaseFlow Season = "winter base flow"
	SeasonSnowMelt       Season = "snow melt"
	SeasonMonsoon        Season = "monsoon"
	SeasonFallBaseFlow   Season = "fall base flow"
)

// SeasonOf maps a timestamp to its hydrologic season.
// Dec-Apr winter base flow, May-Jun snow melt, Jul-Sep monsoon, Oct-Nov fall.
func SeasonOf(t time.Time) Season {
	switch t.UTC().Month() {
	case time.May, time.June:
		return SeasonSnowMelt
	case time.July, time.August, time.September:
		return SeasonMonsoon
	case time.October, time.November:
		return SeasonFallBaseFlow
	default:
		return SeasonWinterBaseFlow
	}
}

// TimestampKey is the canonical string form of an interval timestamp, used for
// all cross-series joins. Layer-2/3 checks only ever match on exact equality
// of this key.
func TimestampKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FlagSet is an ordered, deduplicated set of flag tags. The zero value is an
// empty set ready for use.
type FlagSet struct {
	tags []Flag
}

// NewFlagSet builds a set from tags in order, dropping duplicates.
func NewFlagSet(tags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range tags {
		s.Add(f)
	}
	return s
}

// Add appends the tag unless it is already present.
func (s *FlagSet) Add(f Flag) {
	if s.Has(f) {
		return
	}
	s.tags = append(s.tags, f)
}

// Has reports whether the tag is present.
func (s *FlagSet) Has(f Flag) bool {
	for _, t := range s.tags {
		if t == f {
			return true
		}
	}
	return false
}

// Remove deletes the tag, preserving the order of the rest.
func (s *FlagSet) Remove(f Flag) {
	for i, t := range s.tags {
		if t == f {
			s.tags = append(s.tags[:i], s.tags[i+1:]...)
			return
		}
	}
}

// Empty reports whether no tags are set.
func (s *FlagSet) Empty() bool {
	return len(s.tags) == 0
}

// Len returns the number of tags.
func (s *FlagSet) Len() int {
	return len(s.tags)
}

// Tags returns the tags in insertion order. The caller must not mutate the
// returned slice.
func (s *FlagSet) Tags() []Flag {
	return s.tags
}

// Clone returns an independent copy.
func (s *FlagSet) Clone() FlagSet {
	if len(s.tags) == 0 {
		return FlagSet{}
	}
	return FlagSet{tags: append([]Flag(nil), s.tags...)}
}

// String collapses the set into the auto_flag wire form: tags joined by "; "
// in insertion order, empty string for the empty set.
func (s *FlagSet) String() string {
	if len(s.tags) == 0 {
		return ""
	}
	parts := make([]string, len(s.tags))
	for i, t := range s.tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, "; ")
}

// Interval is one fixed-cadence aggregated measurement row for a
// (site, parameter, timestamp).
type Interval struct {
	Timestamp    time.Time
	TimestampKey string
	Site         string
	Parameter    string
	Mean         *float64 // nil when no observation fell in the interval
	Units        string
	NObs         int
	Spread       float64
	Flags        FlagSet
	Malfunction  Flag // reported malfunction tag, "" when none
	SondeMoved   bool
	Historical   bool

	// Derived context, populated by the annotator and read-only afterwards.
	Season        Season
	LastSiteVisit *time.Time
	SondeEmployed *bool
	PrevMean      *float64
	NextMean      *float64
	SlopePrev     *float64 // (mean - prev) per interval step
	SlopeNext     *float64
	RollMedian    *float64
	RollMean      *float64
	RollSlope     *float64
	RollStdDev    *float64
}

// SeriesKey identifies one (site, parameter) time series.
type SeriesKey struct {
	Site      string
	Parameter string
}

// Series is the full ordered sequence of intervals for one (site, parameter):
// strictly increasing, unique, fixed-spacing timestamps with gaps materialized
// as null-mean rows.
type Series struct {
	Key       SeriesKey
	Units     string
	Intervals []Interval
}

// Empty reports whether the series carries no interval with an observation.
func (s *Series) Empty() bool {
	for i := range s.Intervals {
		if s.Intervals[i].Mean != nil {
			return false
		}
	}
	return true
}

// OutputRecord is the canonical projection published for one interval.
type OutputRecord struct {
	Timestamp       time.Time  `json:"timestamp"`
	TimestampKey    string     `json:"timestamp_key"`
	Site            string     `json:"site"`
	Parameter       string     `json:"parameter"`
	Mean            *float64   `json:"mean"`
	Units           string     `json:"units"`
	NObs            int        `json:"n_obs"`
	Spread          float64    `json:"spread"`
	AutoFlag        *string    `json:"auto_flag"`
	MalfunctionFlag *string    `json:"malfunction_flag"`
	SondeMovedFlag  bool       `json:"sonde_moved_flag"`
	Historical      bool       `json:"historical"`
	Season          Season     `json:"season,omitempty"`
	LastSiteVisit   *time.Time `json:"last_site_visit,omitempty"`
}

// Project collapses an interval into its canonical output record.
func Project(iv *Interval) OutputRecord {
	rec := OutputRecord{
		Timestamp:      iv.Timestamp,
		TimestampKey:   iv.TimestampKey,
		Site:           iv.Site,
		Parameter:      iv.Parameter,
		Mean:           iv.Mean,
		Units:          iv.Units,
		NObs:           iv.NObs,
		Spread:         iv.Spread,
		SondeMovedFlag: iv.SondeMoved,
		Historical:     iv.Historical,
		Season:         iv.Season,
		LastSiteVisit:  iv.LastSiteVisit,
	}
	if !iv.Flags.Empty() {
		auto := iv.Flags.String()
		rec.AutoFlag = &auto
	}
	if iv.Malfunction != "" {
		mf := string(iv.Malfunction)
		rec.MalfunctionFlag = &mf
	}
	return rec
}
