package qc

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
)

// Engine runs the three-layer flagging pipeline over one batch of raw
// measurements. Per-series stages execute across a worker pool; a barrier
// separates layer 1 from the per-site layer 2, and a second global barrier
// separates layer 2 from layer 3.
type Engine struct {
	thresholds *domain.Thresholds
	params     Params
	logger     *slog.Logger
	workers    int
}

// NewEngine creates an Engine. A workers value below 1 uses one worker per CPU.
func NewEngine(th *domain.Thresholds, p Params, logger *slog.Logger, workers int) *Engine {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Engine{thresholds: th, params: p, logger: logger, workers: workers}
}

// Run executes normalize -> annotate -> layer 1 -> layer 2 -> layer 3 ->
// projection for one batch and returns the flagged output records. A batch
// with zero raw measurements returns ErrNoData before any flagging.
func (e *Engine) Run(ctx context.Context, raw []domain.RawMeasurement, fieldCtx domain.FieldContext) ([]domain.OutputRecord, error) {
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	series := Normalize(raw, e.params.Cadence)
	e.logger.Info("normalized raw batch", "measurements", len(raw), "series", len(series))

	// Layer 1: embarrassingly parallel across (site, parameter) keys.
	flagged := make([]domain.Series, len(series))
	e.forEach(ctx, len(series), func(i int) {
		annotated := Annotate(series[i], fieldCtx, e.params.RollWindow)
		flagged[i] = ApplyParameterRules(annotated, fieldCtx, e.thresholds, e.params, e.logger)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Empty series drop out of the active set before the cross-series layers.
	bySite := make(map[string][]domain.Series)
	for i := range flagged {
		if flagged[i].Empty() {
			e.logger.Warn("dropping empty series",
				"site", flagged[i].Key.Site, "parameter", flagged[i].Key.Parameter)
			continue
		}
		bySite[flagged[i].Key.Site] = append(bySite[flagged[i].Key.Site], flagged[i])
	}

	// Layer 2: all of a site's parameters must have finished layer 1; sites
	// then proceed independently.
	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	checked := make(map[string][]domain.Series, len(bySite))
	var mu sync.Mutex
	e.forEach(ctx, len(sites), func(i int) {
		site := sites[i]
		result := ApplySiteRules(bySite[site], fieldCtx, e.thresholds, e.params)
		mu.Lock()
		checked[site] = result
		mu.Unlock()
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Layer 3: global barrier; the full active-site set is compared per
	// timestamp, so this stage runs once.
	final := ApplyNetworkRules(checked, e.params)

	return ProjectBatch(final), nil
}

// forEach runs fn over [0, n) on the worker pool and waits for completion.
func (e *Engine) forEach(ctx context.Context, n int, fn func(i int)) {
	workers := e.workers
	if workers > n {
		workers = n
	}
	if workers < 1 {
		return
	}

	indices := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case indices <- i:
		case <-ctx.Done():
			close(indices)
			wg.Wait()
			return
		}
	}
	close(indices)
	wg.Wait()
}
