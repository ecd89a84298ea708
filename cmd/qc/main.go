// Command qc runs the river-sensor quality-control service: it consumes raw
// measurement batches from Kafka, applies the three-layer flagging engine,
// merges with the historical record, and publishes the reconciled output.
package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/river-qc-etl/internal/adapter/history"
	httpadapter "github.com/couchcryptid/river-qc-etl/internal/adapter/http"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/kafka"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/notes"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/thresholds"
	"github.com/couchcryptid/river-qc-etl/internal/config"
	"github.com/couchcryptid/river-qc-etl/internal/observability"
	"github.com/couchcryptid/river-qc-etl/internal/pipeline"
	"github.com/couchcryptid/river-qc-etl/internal/qc"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "qc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	th, err := thresholds.Load(cfg.ThresholdsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load thresholds: %w", err)
		}
		logger.Warn("thresholds file not found, range and slope checks disabled",
			"path", cfg.ThresholdsPath)
		th = thresholds.Empty()
	}

	store, err := history.Open(cfg.HistoryDSN, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	reader := kafka.NewReader(cfg, logger)
	defer reader.Close()
	writer := kafka.NewWriter(cfg, logger)
	defer writer.Close()

	var notesSource pipeline.NotesSource = notes.Disabled{}
	if cfg.NotesEnabled {
		notesSource = notes.NewClient(cfg.NotesURL, cfg.NotesTimeout, logger)
	}

	params := engineParams(cfg)
	engine := qc.NewEngine(th, params, logger, cfg.Workers)

	pipe := pipeline.New(reader, notesSource, engine, store, writer,
		metrics, logger, cfg.BatchSize, cfg.RecentWindow)

	server := httpadapter.NewServer(cfg.HTTPAddr, pipe, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			serverErr <- err
		}
	}()

	pipeErr := make(chan error, 1)
	go func() {
		pipeErr <- pipe.Run(ctx)
	}()

	logger.Info("service started",
		"source_topic", cfg.KafkaSourceTopic,
		"sink_topic", cfg.KafkaSinkTopic,
		"http_addr", cfg.HTTPAddr)

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
		stop()
		<-pipeErr
	case err := <-pipeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("pipeline: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		<-pipeErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("service stopped")
	return runErr
}

// engineParams merges the environment-tunable knobs into the standard
// operating point.
func engineParams(cfg *config.Config) qc.Params {
	p := qc.DefaultParams()
	p.Cadence = cfg.Cadence
	p.NetworkFraction = cfg.NetworkFraction
	p.DONoiseStdDev = cfg.DONoiseStdDev
	p.DONoiseSlope = cfg.DONoiseSlope
	return p
}
