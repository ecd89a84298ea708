// Package pipeline orchestrates the batch loop: extract raw measurements,
// fetch field context, run the flagging engine, merge with the historical
// record, and publish the reconciled output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"github.com/couchcryptid/river-qc-etl/internal/observability"
	"github.com/couchcryptid/river-qc-etl/internal/qc"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor pulls a batch of raw messages from the acquisition feed.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawBatch, error)
}

// NotesSource supplies field-technician context for a run.
type NotesSource interface {
	FetchContext(ctx context.Context) (domain.FieldContext, error)
}

// Flagger runs the three-layer QC engine over one batch.
type Flagger interface {
	Run(ctx context.Context, raw []domain.RawMeasurement, fieldCtx domain.FieldContext) ([]domain.OutputRecord, error)
}

// HistoryStore persists the reconciled record set between runs.
type HistoryStore interface {
	Load(ctx context.Context) ([]domain.OutputRecord, error)
	Replace(ctx context.Context, records []domain.OutputRecord) error
}

// Publisher writes flagged records to the sink topics.
type Publisher interface {
	PublishRecords(ctx context.Context, records []domain.OutputRecord) error
	PublishRecent(ctx context.Context, records []domain.OutputRecord) error
}

// Pipeline is the long-running extract-flag-merge-publish loop.
type Pipeline struct {
	extractor BatchExtractor
	notes     NotesSource
	flagger   Flagger
	history   HistoryStore
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	batchSize    int
	recentWindow time.Duration

	ready atomic.Bool
}

// New assembles a Pipeline from its collaborators.
func New(
	extractor BatchExtractor,
	notes NotesSource,
	flagger Flagger,
	history HistoryStore,
	publisher Publisher,
	metrics *observability.Metrics,
	logger *slog.Logger,
	batchSize int,
	recentWindow time.Duration,
) *Pipeline {
	return &Pipeline{
		extractor:    extractor,
		notes:        notes,
		flagger:      flagger,
		history:      history,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		batchSize:    batchSize,
		recentWindow: recentWindow,
	}
}

// Run processes batches until ctx is cancelled. Failed runs back off
// exponentially and leave offsets uncommitted so the batch is redelivered.
func (p *Pipeline) Run(ctx context.Context) error {
	p.ready.Store(true)
	p.metrics.PipelineRunning.Set(1)
	defer func() {
		p.ready.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.runOnce(ctx)
		switch {
		case err == nil:
			backoff = initialBackoff
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, qc.ErrNoData):
			p.metrics.EmptyRuns.Inc()
			p.logger.Error("no usable data in batch", "error", err)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
		default:
			p.metrics.RunErrors.Inc()
			p.logger.Error("run failed", "error", err)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
		}
	}
}

// CheckReadiness reports whether the loop is accepting batches.
func (p *Pipeline) CheckReadiness() error {
	if !p.ready.Load() {
		return errors.New("pipeline is not running")
	}
	return nil
}

func (p *Pipeline) runOnce(ctx context.Context) error {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("extract batch: %w", err)
	}

	start := domain.Now()
	measurements, parsed := p.parseBatch(ctx, batch)
	p.metrics.MeasurementsConsumed.Add(float64(len(measurements)))
	p.metrics.BatchSize.Observe(float64(len(measurements)))

	fieldCtx, err := p.notes.FetchContext(ctx)
	if err != nil {
		// Field context is advisory. Missing notes mean fewer explained
		// flags, not a failed run.
		p.logger.Warn("field context unavailable", "error", err)
		fieldCtx = domain.FieldContext{}
	}

	records, err := p.flagger.Run(ctx, measurements, fieldCtx)
	if err != nil {
		if errors.Is(err, qc.ErrNoData) {
			// Nothing to flag but the malformed messages are already
			// accounted for; commit so they are not redelivered forever.
			p.commit(ctx, parsed)
		}
		return err
	}

	history, err := p.history.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	merged := qc.Merge(history, records)
	if err := p.history.Replace(ctx, merged); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	p.metrics.MergedRecords.Set(float64(len(merged)))

	if err := p.publisher.PublishRecords(ctx, merged); err != nil {
		return fmt.Errorf("publish records: %w", err)
	}
	recent := qc.RecentView(merged, p.recentWindow)
	if err := p.publisher.PublishRecent(ctx, recent); err != nil {
		return fmt.Errorf("publish recent view: %w", err)
	}
	p.metrics.RecordsPublished.Add(float64(len(merged) + len(recent)))
	p.observeFlags(records)

	p.commit(ctx, parsed)

	p.metrics.RunsCompleted.Inc()
	p.metrics.RunDuration.Observe(domain.Now().Sub(start).Seconds())
	p.logger.Info("run complete",
		"measurements", len(measurements),
		"flagged_records", len(records),
		"merged_records", len(merged),
		"recent_records", len(recent))
	return nil
}

// parseBatch deserializes each message, dropping malformed ones. Dropped
// messages are still returned in the commit set so they are not redelivered.
func (p *Pipeline) parseBatch(ctx context.Context, batch []domain.RawBatch) ([]domain.RawMeasurement, []domain.RawBatch) {
	var measurements []domain.RawMeasurement
	commits := make([]domain.RawBatch, 0, len(batch))
	for _, msg := range batch {
		parsed, err := domain.ParseRawMeasurements(msg)
		if err != nil {
			p.metrics.ParseErrors.Inc()
			p.logger.Warn("dropping unparseable message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			p.commit(ctx, []domain.RawBatch{msg})
			continue
		}
		measurements = append(measurements, parsed...)
		commits = append(commits, msg)
	}
	return measurements, commits
}

func (p *Pipeline) commit(ctx context.Context, batch []domain.RawBatch) {
	for _, msg := range batch {
		if msg.Commit == nil {
			continue
		}
		if err := msg.Commit(ctx); err != nil {
			p.logger.Error("commit failed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (p *Pipeline) observeFlags(records []domain.OutputRecord) {
	for i := range records {
		if records[i].AutoFlag == nil {
			continue
		}
		for _, tag := range strings.Split(*records[i].AutoFlag, "; ") {
			p.metrics.FlagsApplied.WithLabelValues(tag).Inc()
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
