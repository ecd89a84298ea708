package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the QC pipeline.
type Metrics struct {
	MeasurementsConsumed prometheus.Counter
	RecordsPublished     prometheus.Counter
	ParseErrors          prometheus.Counter
	RunErrors            prometheus.Counter
	EmptyRuns            prometheus.Counter
	PipelineRunning      prometheus.Gauge

	// Per-run processing metrics.
	RunsCompleted prometheus.Counter
	RunDuration   prometheus.Histogram
	BatchSize     prometheus.Histogram
	MergedRecords prometheus.Gauge

	// Flagging metrics.
	FlagsApplied *prometheus.CounterVec // label: tag
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MeasurementsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "measurements_consumed_total",
			Help:      "Total raw measurements read from the source topic.",
		}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "records_published_total",
			Help:      "Total flagged records written to the sink topics.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "parse_errors_total",
			Help:      "Total raw messages dropped as unparseable.",
		}),
		RunErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "run_errors_total",
			Help:      "Total QC runs that failed.",
		}),
		EmptyRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "empty_runs_total",
			Help:      "Total runs halted because no raw data was acquired.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "river_qc",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "runs_completed_total",
			Help:      "Total QC runs that flagged, merged, and published successfully.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_qc",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete flag-merge-publish run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_qc",
			Name:      "batch_size",
			Help:      "Number of raw measurements per run.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		MergedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "river_qc",
			Name:      "merged_records",
			Help:      "Size of the reconciled historical record after the last merge.",
		}),
		FlagsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_qc",
			Name:      "flags_applied_total",
			Help:      "Quality flags applied, by tag.",
		}, []string{"tag"}),
	}

	prometheus.MustRegister(
		m.MeasurementsConsumed,
		m.RecordsPublished,
		m.ParseErrors,
		m.RunErrors,
		m.EmptyRuns,
		m.PipelineRunning,
		m.RunsCompleted,
		m.RunDuration,
		m.BatchSize,
		m.MergedRecords,
		m.FlagsApplied,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MeasurementsConsumed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "measurements_consumed_total"}),
		RecordsPublished:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "records_published_total"}),
		ParseErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "parse_errors_total"}),
		RunErrors:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "run_errors_total"}),
		EmptyRuns:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "empty_runs_total"}),
		PipelineRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "river_qc", Name: "pipeline_running"}),
		RunsCompleted:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_qc", Name: "runs_completed_total"}),
		RunDuration:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "river_qc", Name: "run_duration_seconds"}),
		BatchSize:            prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "river_qc", Name: "batch_size"}),
		MergedRecords:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "river_qc", Name: "merged_records"}),
		FlagsApplied:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "river_qc", Name: "flags_applied_total"}, []string{"tag"}),
	}
}
