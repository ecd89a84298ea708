package thresholds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
spec:
  "dissolved oxygen": {min: 0, max: 20}
  ph: {min: 0, max: 14}
seasonal:
  - site: bellvue
    parameter: temperature
    season: winter base flow
    p1: 0.5
    p99: 12.0
    slope_bound: 1.0
  - site: bellvue
    parameter: temperature
    season: monsoon
    p1: 8.0
    p99: 24.0
    slope_bound: 2.0
`

func TestParse(t *testing.T) {
	th, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	spec, ok := th.SpecFor("dissolved oxygen")
	require.True(t, ok)
	assert.Equal(t, 0.0, spec.Min)
	assert.Equal(t, 20.0, spec.Max)

	_, ok = th.SpecFor("turbidity")
	assert.False(t, ok)

	sr, ok := th.SeasonalFor("bellvue", "temperature", domain.SeasonWinterBaseFlow)
	require.True(t, ok)
	assert.Equal(t, 0.5, sr.P1)
	assert.Equal(t, 1.0, sr.SlopeBound)

	_, ok = th.SeasonalFor("bellvue", "temperature", domain.SeasonSnowMelt)
	assert.False(t, ok)
}

func TestParseRejectsIncompleteEntries(t *testing.T) {
	_, err := Parse([]byte(`
seasonal:
  - parameter: temperature
    season: monsoon
    p1: 1
    p99: 2
`))
	assert.Error(t, err)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("spec: ["))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	th, err := Load(path)
	require.NoError(t, err)
	_, ok := th.SpecFor("ph")
	assert.True(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptyThresholdsAreNoOps(t *testing.T) {
	th := Empty()
	_, ok := th.SpecFor("ph")
	assert.False(t, ok)
	_, ok = th.SeasonalFor("bellvue", "ph", domain.SeasonMonsoon)
	assert.False(t, ok)
}
