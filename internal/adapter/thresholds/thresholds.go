// Package thresholds loads the spec and seasonal threshold tables from the
// config store's YAML export. Missing entries degrade the corresponding check
// to a no-op; only an unreadable or malformed file is an error.
package thresholds

import (
	"fmt"
	"os"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

// file mirrors the YAML layout:
//
//	spec:
//	  "dissolved oxygen": {min: 0, max: 20}
//	seasonal:
//	  - site: bellvue
//	    parameter: temperature
//	    season: winter base flow
//	    p1: 0.5
//	    p99: 12.0
//	    slope_bound: 1.0
type file struct {
	Spec     map[string]domain.SpecRange `yaml:"spec"`
	Seasonal []seasonalEntry             `yaml:"seasonal"`
}

type seasonalEntry struct {
	Site       string  `yaml:"site"`
	Parameter  string  `yaml:"parameter"`
	Season     string  `yaml:"season"`
	P1         float64 `yaml:"p1"`
	P99        float64 `yaml:"p99"`
	SlopeBound float64 `yaml:"slope_bound"`
}

// Load reads the threshold tables from path.
func Load(path string) (*domain.Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	return Parse(data)
}

// Parse decodes threshold tables from YAML bytes.
func Parse(data []byte) (*domain.Thresholds, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}

	th := &domain.Thresholds{
		Spec:     f.Spec,
		Seasonal: make(map[domain.SeasonalKey]domain.SeasonalRange, len(f.Seasonal)),
	}
	if th.Spec == nil {
		th.Spec = map[string]domain.SpecRange{}
	}
	for _, e := range f.Seasonal {
		if e.Site == "" || e.Parameter == "" || e.Season == "" {
			return nil, fmt.Errorf("parse thresholds: seasonal entry missing site, parameter, or season")
		}
		key := domain.SeasonalKey{Site: e.Site, Parameter: e.Parameter, Season: domain.Season(e.Season)}
		th.Seasonal[key] = domain.SeasonalRange{P1: e.P1, P99: e.P99, SlopeBound: e.SlopeBound}
	}
	return th, nil
}

// Empty returns threshold tables with no entries: every threshold check
// becomes a no-op.
func Empty() *domain.Thresholds {
	return &domain.Thresholds{
		Spec:     map[string]domain.SpecRange{},
		Seasonal: map[domain.SeasonalKey]domain.SeasonalRange{},
	}
}
