package qc

import (
	"testing"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyLayer1(t *testing.T, s domain.Series, fieldCtx domain.FieldContext, th *domain.Thresholds, p Params) domain.Series {
	t.Helper()
	annotated := Annotate(s, fieldCtx, p.RollWindow)
	return ApplyParameterRules(annotated, fieldCtx, th, p, nil)
}

func TestMissingDataFlaggedAndValueRulesSkipped(t *testing.T) {
	th := emptyThresholds()
	th.Spec["ph"] = domain.SpecRange{Min: 0, Max: 14}

	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(7), nil, fp(7.2)})
	out := applyLayer1(t, s, domain.FieldContext{}, th, DefaultParams())

	gap := out.Intervals[1]
	assert.True(t, gap.Flags.Has(domain.FlagMissingData))
	assert.Equal(t, 1, gap.Flags.Len())
}

func TestSpecRangeFlag(t *testing.T) {
	th := emptyThresholds()
	th.Spec["ph"] = domain.SpecRange{Min: 0, Max: 14}

	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(7), fp(15)})
	out := applyLayer1(t, s, domain.FieldContext{}, th, DefaultParams())

	assert.False(t, out.Intervals[0].Flags.Has(domain.FlagOutsideSpecRange))
	assert.True(t, out.Intervals[1].Flags.Has(domain.FlagOutsideSpecRange))
}

func TestSeasonalRangeBoundary(t *testing.T) {
	th := emptyThresholds()
	th.Seasonal[domain.SeasonalKey{Site: "bellvue", Parameter: "temperature", Season: domain.SeasonWinterBaseFlow}] =
		domain.SeasonalRange{P1: 0.5, P99: 12.0, SlopeBound: 5.0}

	s := mkSeries("bellvue", "temperature", testStart, 15*time.Minute, []*float64{fp(0.2), fp(0.6)})
	out := applyLayer1(t, s, domain.FieldContext{}, th, DefaultParams())

	assert.True(t, out.Intervals[0].Flags.Has(domain.FlagOutsideSeasonalRange))
	assert.False(t, out.Intervals[1].Flags.Has(domain.FlagOutsideSeasonalRange))
}

func TestSeasonalSlopeViolation(t *testing.T) {
	th := emptyThresholds()
	th.Seasonal[domain.SeasonalKey{Site: "bellvue", Parameter: "temperature", Season: domain.SeasonWinterBaseFlow}] =
		domain.SeasonalRange{P1: -10, P99: 30, SlopeBound: 1.0}

	s := mkSeries("bellvue", "temperature", testStart, 15*time.Minute, []*float64{fp(1), fp(3.5), fp(4)})
	out := applyLayer1(t, s, domain.FieldContext{}, th, DefaultParams())

	assert.False(t, out.Intervals[0].Flags.Has(domain.FlagSlopeViolation))
	assert.True(t, out.Intervals[1].Flags.Has(domain.FlagSlopeViolation))
	assert.False(t, out.Intervals[2].Flags.Has(domain.FlagSlopeViolation))
}

func TestMissingThresholdsDisableRangeChecks(t *testing.T) {
	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(400)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())
	assert.True(t, out.Intervals[0].Flags.Empty())
}

func TestSiteVisitFlags(t *testing.T) {
	visit := testStart.Add(30 * time.Minute)
	fieldCtx := domain.FieldContext{Notes: []domain.FieldNote{
		{Site: "bellvue", Timestamp: visit, NoteType: domain.NoteSiteVisit},
	}}

	means := make([]*float64, 12)
	for i := range means {
		means[i] = fp(float64(i) * 0.01)
	}
	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, means)
	out := applyLayer1(t, s, fieldCtx, emptyThresholds(), DefaultParams())

	// Interval exactly containing the visit gets both tags.
	atVisit := out.Intervals[2]
	assert.True(t, atVisit.Flags.Has(domain.FlagSiteVisit))
	assert.True(t, atVisit.Flags.Has(domain.FlagSiteVisitWindow))

	// 15 minutes before and up to 60 minutes after get only the window tag.
	before := out.Intervals[1]
	assert.False(t, before.Flags.Has(domain.FlagSiteVisit))
	assert.True(t, before.Flags.Has(domain.FlagSiteVisitWindow))
	after := out.Intervals[6]
	assert.True(t, after.Flags.Has(domain.FlagSiteVisitWindow))

	// Well outside the window, neither.
	far := out.Intervals[10]
	assert.False(t, far.Flags.Has(domain.FlagSiteVisit))
	assert.False(t, far.Flags.Has(domain.FlagSiteVisitWindow))
}

func TestSondeNotEmployedFlag(t *testing.T) {
	off := false
	fieldCtx := domain.FieldContext{Notes: []domain.FieldNote{
		{Site: "bellvue", Timestamp: testStart, NoteType: domain.NoteSondeEmployed, SondeEmployed: &off},
	}}

	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(7), fp(7.1)})
	out := applyLayer1(t, s, fieldCtx, emptyThresholds(), DefaultParams())

	assert.True(t, out.Intervals[0].Flags.Has(domain.FlagSondeNotEmployed))
	assert.True(t, out.Intervals[1].Flags.Has(domain.FlagSondeNotEmployed))
}

func TestDOInterferenceFloor(t *testing.T) {
	s := mkSeries("bellvue", domain.ParamDO, testStart, 15*time.Minute, []*float64{fp(4.9), fp(5.0), fp(5.1)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())

	assert.True(t, out.Intervals[0].Flags.Has(domain.FlagDOInterference))
	assert.True(t, out.Intervals[1].Flags.Has(domain.FlagDOInterference)) // at the floor counts
	assert.False(t, out.Intervals[2].Flags.Has(domain.FlagDOInterference))
}

func TestDOInterferenceVolatility(t *testing.T) {
	means := []*float64{fp(8), fp(9), fp(8), fp(9), fp(8), fp(9), fp(10)}
	s := mkSeries("bellvue", domain.ParamDO, testStart, 15*time.Minute, means)
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())

	// Window stddev ~0.70 and |slope| ~0.33 both exceed the noise thresholds.
	assert.True(t, out.Intervals[6].Flags.Has(domain.FlagDOInterference))
}

func TestDOVolatilityNotAppliedToOtherParameters(t *testing.T) {
	means := []*float64{fp(8), fp(9), fp(8), fp(9), fp(8), fp(9), fp(10)}
	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, means)
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())
	assert.False(t, out.Intervals[6].Flags.Has(domain.FlagDOInterference))
}

func TestRepeatedValueNeighbors(t *testing.T) {
	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(5.0), fp(5.0), fp(6.0)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())

	assert.True(t, out.Intervals[0].Flags.Has(domain.FlagRepeatedValue))
	assert.True(t, out.Intervals[1].Flags.Has(domain.FlagRepeatedValue))
	assert.False(t, out.Intervals[2].Flags.Has(domain.FlagRepeatedValue))
}

func TestRepeatedValueSkipsGaps(t *testing.T) {
	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(5.0), nil, fp(5.0)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), DefaultParams())

	assert.True(t, out.Intervals[0].Flags.Has(domain.FlagRepeatedValue))
	assert.True(t, out.Intervals[2].Flags.Has(domain.FlagRepeatedValue))
}

func TestDepthShiftAfterMaintenance(t *testing.T) {
	p := DefaultParams()
	note := testStart.Add(30 * time.Minute)
	fieldCtx := domain.FieldContext{Notes: []domain.FieldNote{
		{Site: "bellvue", Timestamp: note, NoteType: domain.NoteMaintenance},
	}}

	s := mkSeries("bellvue", domain.ParamDepth, testStart, 15*time.Minute,
		[]*float64{fp(1.00), fp(1.01), fp(1.10), fp(1.11)})
	out := applyLayer1(t, s, fieldCtx, emptyThresholds(), p)

	boundary := out.Intervals[2]
	assert.True(t, boundary.Flags.Has(domain.FlagSondeMoved))
	assert.True(t, boundary.SondeMoved)
	assert.False(t, out.Intervals[1].SondeMoved)
}

func TestDepthShiftBelowMinimumIgnored(t *testing.T) {
	fieldCtx := domain.FieldContext{Notes: []domain.FieldNote{
		{Site: "bellvue", Timestamp: testStart.Add(30 * time.Minute), NoteType: domain.NoteMaintenance},
	}}

	s := mkSeries("bellvue", domain.ParamDepth, testStart, 15*time.Minute,
		[]*float64{fp(1.00), fp(1.01), fp(1.02), fp(1.03)})
	out := applyLayer1(t, s, fieldCtx, emptyThresholds(), DefaultParams())

	for _, iv := range out.Intervals {
		assert.False(t, iv.SondeMoved)
	}
}

func TestDepthShiftOldNotesIgnored(t *testing.T) {
	old := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)
	fieldCtx := domain.FieldContext{Notes: []domain.FieldNote{
		{Site: "bellvue", Timestamp: old, NoteType: domain.NoteMaintenance},
	}}

	s := mkSeries("bellvue", domain.ParamDepth, old, 15*time.Minute, []*float64{fp(1.0), fp(1.5)})
	out := applyLayer1(t, s, fieldCtx, emptyThresholds(), DefaultParams())

	for _, iv := range out.Intervals {
		assert.False(t, iv.SondeMoved)
	}
}

func TestDriftOnOpticalParameter(t *testing.T) {
	p := DefaultParams()
	p.DriftWindow = time.Hour // 4 intervals at the 15m cadence

	s := mkSeries("bellvue", domain.ParamTurbidity, testStart, 15*time.Minute,
		[]*float64{fp(0), fp(4), fp(8), fp(12)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), p)

	assert.True(t, out.Intervals[3].Flags.Has(domain.FlagDrift))
}

func TestDriftRequiresMonotonicTrend(t *testing.T) {
	p := DefaultParams()
	p.DriftWindow = time.Hour

	s := mkSeries("bellvue", domain.ParamTurbidity, testStart, 15*time.Minute,
		[]*float64{fp(0), fp(12), fp(8), fp(12)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), p)

	assert.False(t, out.Intervals[3].Flags.Has(domain.FlagDrift))
}

func TestDriftNotAppliedToNonOptical(t *testing.T) {
	p := DefaultParams()
	p.DriftWindow = time.Hour

	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute,
		[]*float64{fp(0), fp(4), fp(8), fp(12)})
	out := applyLayer1(t, s, domain.FieldContext{}, emptyThresholds(), p)

	assert.False(t, out.Intervals[3].Flags.Has(domain.FlagDrift))
}

func TestApplyParameterRulesDoesNotMutateInput(t *testing.T) {
	th := emptyThresholds()
	th.Spec["ph"] = domain.SpecRange{Min: 0, Max: 14}

	s := mkSeries("bellvue", "ph", testStart, 15*time.Minute, []*float64{fp(15)})
	annotated := Annotate(s, domain.FieldContext{}, 7)
	out := ApplyParameterRules(annotated, domain.FieldContext{}, th, DefaultParams(), nil)

	require.True(t, out.Intervals[0].Flags.Has(domain.FlagOutsideSpecRange))
	assert.True(t, annotated.Intervals[0].Flags.Empty())
}
