// Command genmock generates deterministic mock fixtures: a raw measurement
// batch, a field-note feed, and the flagged output the engine produces for
// them. Useful for seeding local Kafka topics and for consumer contract tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/adapter/thresholds"
	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"github.com/couchcryptid/river-qc-etl/internal/qc"
	"github.com/jonboulle/clockwork"
)

var sites = []string{"bellvue", "lincoln", "timberline", "prospect", "elc"}

var parameters = []struct {
	name  string
	units string
	base  float64
	amp   float64
}{
	{domain.ParamTemperature, "C", 8.0, 4.0},
	{domain.ParamDepth, "m", 0.6, 0.1},
	{domain.ParamDO, "mg/L", 8.5, 1.5},
	{domain.ParamPH, "pH", 7.8, 0.3},
	{domain.ParamConductance, "uS/cm", 150.0, 30.0},
	{domain.ParamTurbidity, "FNU", 12.0, 8.0},
}

func main() {
	outDir := flag.String("out", "testdata/mock", "output directory")
	hours := flag.Int("hours", 48, "hours of data to generate")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	start := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(*hours) * time.Hour)
	domain.SetClock(clockwork.NewFakeClockAt(end))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(*seed))
	raw := generateRaw(rng, start, *hours)
	fieldCtx := generateFieldContext(start)

	engine := qc.NewEngine(thresholds.Empty(), qc.DefaultParams(), logger, 1)
	records, err := engine.Run(context.Background(), raw, fieldCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genmock: %v\n", err)
		os.Exit(1)
	}

	if err := writeFixtures(*outDir, raw, fieldCtx, records); err != nil {
		fmt.Fprintf(os.Stderr, "genmock: %v\n", err)
		os.Exit(1)
	}
	logger.Info("fixtures written", "dir", *outDir,
		"measurements", len(raw), "records", len(records))
}

func generateRaw(rng *rand.Rand, start time.Time, hours int) []domain.RawMeasurement {
	var raw []domain.RawMeasurement
	steps := hours * 4 // one observation per 15 minutes
	for _, site := range sites {
		for _, p := range parameters {
			for i := 0; i < steps; i++ {
				// A few gaps per series so missing-data paths get exercised.
				if rng.Float64() < 0.02 {
					continue
				}
				ts := start.Add(time.Duration(i) * 15 * time.Minute)
				diurnal := p.amp * math.Sin(2*math.Pi*float64(i%96)/96.0)
				value := p.base + diurnal + rng.NormFloat64()*p.amp*0.05
				raw = append(raw, domain.RawMeasurement{
					Site:      site,
					Timestamp: ts,
					Parameter: p.name,
					Value:     value,
					Units:     p.units,
				})
			}
		}
	}
	return raw
}

func generateFieldContext(start time.Time) domain.FieldContext {
	visit := start.Add(26 * time.Hour)
	return domain.FieldContext{
		Notes: []domain.FieldNote{
			{
				Site:          sites[0],
				Timestamp:     visit,
				NoteType:      domain.NoteSiteVisit,
				LastSiteVisit: visit,
			},
		},
		Malfunctions: []domain.MalfunctionRecord{
			{
				Site:            sites[1],
				Parameter:       domain.ParamTurbidity,
				StartDT:         start.Add(10 * time.Hour),
				EndDT:           start.Add(14 * time.Hour),
				MalfunctionType: domain.MalfunctionBiofouling,
			},
		},
	}
}

func writeFixtures(dir string, raw []domain.RawMeasurement, fieldCtx domain.FieldContext, records []domain.OutputRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]any{
		"raw_measurements.json": raw,
		"field_notes.json":      fieldCtx.Notes,
		"malfunctions.json":     fieldCtx.Malfunctions,
		"flagged_records.json":  records,
	}
	for name, v := range files {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
