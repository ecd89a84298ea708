package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseRawMeasurements deserializes one acquisition-feed message. The
// collector publishes either a single measurement object or an array of them;
// both forms are accepted. Measurements missing a site, parameter, or
// timestamp are rejected so they never reach aggregation.
func ParseRawMeasurements(raw RawBatch) ([]RawMeasurement, error) {
	var batch []RawMeasurement
	if err := json.Unmarshal(raw.Value, &batch); err != nil {
		var single RawMeasurement
		if err := json.Unmarshal(raw.Value, &single); err != nil {
			return nil, fmt.Errorf("parse raw measurement: %w", err)
		}
		batch = []RawMeasurement{single}
	}

	out := make([]RawMeasurement, 0, len(batch))
	for _, m := range batch {
		m.Site = strings.TrimSpace(m.Site)
		m.Parameter = strings.ToLower(strings.TrimSpace(m.Parameter))
		m.Units = strings.TrimSpace(m.Units)
		if m.Site == "" || m.Parameter == "" || m.Timestamp.IsZero() {
			return nil, fmt.Errorf("parse raw measurement: missing site, parameter, or timestamp")
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, nil
}
