package qc

import (
	"errors"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// ErrNoData is returned when a run has zero raw input. Total absence of input
// is the only fatal condition; it must halt the run before any flagging.
var ErrNoData = errors.New("no raw data acquired for run")

// Params holds every tunable constant of the rule engine. The literal values
// in DefaultParams are operating points, not invariants; deployments override
// them through configuration.
type Params struct {
	// Cadence is the fixed interval width all series are resampled onto.
	Cadence time.Duration

	// RollWindow is the trailing window length (current + N-1 preceding
	// points) for the moving median/mean/slope/stddev.
	RollWindow int

	// Field-visit proximity window around a site-visit note.
	SiteVisitBefore time.Duration
	SiteVisitAfter  time.Duration

	// Dissolved-oxygen noise detection.
	DOFloor       float64 // mg/L; at or below is interference
	DONoiseStdDev float64 // rolling stddev above which DO is considered noisy
	DONoiseSlope  float64 // rolling |slope| that must accompany the stddev

	// Optical drift detection.
	DriftWindow         time.Duration
	DriftMonotonicRatio float64            // fraction of steps sharing the trend sign
	DriftMagnitude      map[string]float64 // net change per optical parameter

	// Depth step discontinuities after reported housing adjustments.
	DepthShiftMin   float64
	DepthShiftSince time.Time // housing-adjustment logic applies to notes from here on

	// Layer 2.
	IntersensorSlopeFallback float64 // used when the reference series has no seasonal bound
	BurialDuration           time.Duration

	// Layer 3.
	NetworkFraction     float64
	NetworkTags         []domain.Flag
	SuspectWindow       time.Duration
	SuspectFlaggedRatio float64
	SuspectMissingRatio float64
}

// DefaultParams returns the network's standard operating point.
func DefaultParams() Params {
	return Params{
		Cadence:         15 * time.Minute,
		RollWindow:      7,
		SiteVisitBefore: 15 * time.Minute,
		SiteVisitAfter:  60 * time.Minute,

		DOFloor:       5.0,
		DONoiseStdDev: 0.5,
		DONoiseSlope:  0.2,

		DriftWindow:         96 * time.Hour,
		DriftMonotonicRatio: 0.9,
		DriftMagnitude: map[string]float64{
			domain.ParamFDOM:        15.0,
			domain.ParamTurbidity:   10.0,
			domain.ParamChlorophyll: 5.0,
		},

		DepthShiftMin:   0.05,
		DepthShiftSince: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),

		IntersensorSlopeFallback: 1.0,
		BurialDuration:           24 * time.Hour,

		NetworkFraction:     0.6,
		NetworkTags:         []domain.Flag{domain.FlagSlopeViolation, domain.FlagOutsideSeasonalRange},
		SuspectWindow:       2 * time.Hour,
		SuspectFlaggedRatio: 0.5,
		SuspectMissingRatio: 0.9,
	}
}
