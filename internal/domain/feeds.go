package domain

import (
	"context"
	"time"
)

// RawMeasurement is one observation from the acquisition feed. The feed may
// contain exact duplicate tuples.
type RawMeasurement struct {
	Site      string    `json:"site"`
	Timestamp time.Time `json:"timestamp"`
	Parameter string    `json:"parameter"`
	Value     float64   `json:"value"`
	Units     string    `json:"units"`
}

// RawBatch is an unprocessed message holding one or more raw measurements,
// with enough source metadata to commit its offset after a successful run.
type RawBatch struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// NoteType enumerates field-note kinds.
type NoteType string

const (
	NoteSiteVisit         NoteType = "site-visit"
	NoteSondeEmployed     NoteType = "sonde-employed-state"
	NoteMaintenance       NoteType = "maintenance"
	NoteMalfunctionReport NoteType = "malfunction-report"
)

// FieldNote is one technician record from the notes feed.
type FieldNote struct {
	Site          string    `json:"site"`
	Timestamp     time.Time `json:"timestamp"`
	NoteType      NoteType  `json:"note_type"`
	SondeEmployed *bool     `json:"sonde_employed,omitempty"` // sonde-employed-state notes only
	LastSiteVisit time.Time `json:"last_site_visit"`
}

// MalfunctionType enumerates technician-reported malfunction kinds.
type MalfunctionType string

const (
	MalfunctionBurial           MalfunctionType = "burial"
	MalfunctionBiofouling       MalfunctionType = "biofouling"
	MalfunctionDepthCalibration MalfunctionType = "depth-calibration"
	MalfunctionUnsubmerged      MalfunctionType = "unsubmerged"
	MalfunctionGeneral          MalfunctionType = "general"
)

// MalfunctionRecord is one reported malfunction window. An empty Parameter
// applies the record to every parameter at the site.
type MalfunctionRecord struct {
	Site            string          `json:"site"`
	Parameter       string          `json:"parameter,omitempty"`
	StartDT         time.Time       `json:"start_DT"`
	EndDT           time.Time       `json:"end_DT"`
	MalfunctionType MalfunctionType `json:"malfunction_type"`
}

// Tag maps the reported malfunction kind onto its flag tag. Unknown kinds map
// to the general tag so a feed schema drift never drops a report.
func (r MalfunctionRecord) Tag() Flag {
	switch r.MalfunctionType {
	case MalfunctionBurial:
		return FlagReportedBurial
	case MalfunctionBiofouling:
		return FlagReportedBiofouling
	case MalfunctionDepthCalibration:
		return FlagReportedDepthCalibration
	case MalfunctionUnsubmerged:
		return FlagReportedUnsubmerged
	default:
		return FlagReportedMalfunction
	}
}

// Overlaps reports whether the record's window covers the timestamp.
func (r MalfunctionRecord) Overlaps(t time.Time) bool {
	return !t.Before(r.StartDT) && !t.After(r.EndDT)
}

// FieldContext bundles everything the notes collaborator provides for a run.
// A missing or unreadable feed yields the zero value: no context, not an error.
type FieldContext struct {
	Notes        []FieldNote
	Malfunctions []MalfunctionRecord
}

// SpecRange is a manufacturer operating range for one parameter.
type SpecRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// SeasonalRange is the expected [p1, p99] value range and slope bound for one
// (site, parameter, season).
type SeasonalRange struct {
	P1         float64 `yaml:"p1"`
	P99        float64 `yaml:"p99"`
	SlopeBound float64 `yaml:"slope_bound"`
}

// SeasonalKey addresses one seasonal threshold entry.
type SeasonalKey struct {
	Site      string
	Parameter string
	Season    Season
}

// Thresholds holds both threshold tables. Missing entries degrade the
// corresponding check to a no-op for the affected parameter.
type Thresholds struct {
	Spec     map[string]SpecRange
	Seasonal map[SeasonalKey]SeasonalRange
}

// SpecFor looks up the manufacturer range for a parameter.
func (t *Thresholds) SpecFor(parameter string) (SpecRange, bool) {
	if t == nil {
		return SpecRange{}, false
	}
	r, ok := t.Spec[parameter]
	return r, ok
}

// SeasonalFor looks up the seasonal range for (site, parameter, season).
func (t *Thresholds) SeasonalFor(site, parameter string, season Season) (SeasonalRange, bool) {
	if t == nil {
		return SeasonalRange{}, false
	}
	r, ok := t.Seasonal[SeasonalKey{Site: site, Parameter: parameter, Season: season}]
	return r, ok
}
