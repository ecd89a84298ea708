//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/adapter/history"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/kafka"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/notes"
	"github.com/couchcryptid/river-qc-etl/internal/adapter/thresholds"
	"github.com/couchcryptid/river-qc-etl/internal/config"
	"github.com/couchcryptid/river-qc-etl/internal/domain"
	"github.com/couchcryptid/river-qc-etl/internal/observability"
	"github.com/couchcryptid/river-qc-etl/internal/pipeline"
	"github.com/couchcryptid/river-qc-etl/internal/qc"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSourceTopic = "test-raw-measurements"
	testSinkTopic   = "test-flagged-records"
	testRecentTopic = "test-recent-records"
)

type flaggedMessage struct {
	Record  domain.OutputRecord
	Key     string
	Headers map[string]string
}

// readFlagged reads one message from the sink consumer and deserializes it.
func readFlagged(ctx context.Context, t *testing.T, consumer *kafkago.Reader) flaggedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var rec domain.OutputRecord
	require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal sink message")

	return flaggedMessage{Record: rec, Key: string(msg.Key), Headers: headers}
}

func testConfig(broker string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaRecentTopic:   testRecentTopic,
		KafkaGroupID:       fmt.Sprintf("test-qc-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

// TestKafkaReaderWriter verifies the adapter layer round-trips a message
// through real Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	createTopic(t, broker, testRecentTopic)

	cfg := testConfig(broker)

	measurement := domain.RawMeasurement{
		Site:      "bellvue",
		Timestamp: time.Date(2025, time.March, 10, 12, 2, 0, 0, time.UTC),
		Parameter: "ph",
		Value:     7.2,
		Units:     "pH",
	}
	payload, err := json.Marshal([]domain.RawMeasurement{measurement})
	require.NoError(t, err)

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("bellvue"),
		Value: payload,
	}))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawBatch
	for {
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	parsed, err := domain.ParseRawMeasurements(raw)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	engine := qc.NewEngine(thresholds.Empty(), qc.DefaultParams(), discardLogger(), 2)
	records, err := engine.Run(ctx, parsed, domain.FieldContext{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.PublishRecords(ctx, records))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	fm := readFlagged(ctx, t, consumer)
	assert.Equal(t, "bellvue|ph|2025-03-10T12:00:00Z", fm.Key)
	assert.Equal(t, "bellvue", fm.Headers["site"])
	_, err = time.Parse(time.RFC3339, fm.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	require.NotNil(t, fm.Record.Mean)
	assert.Equal(t, 7.2, *fm.Record.Mean)
	assert.Equal(t, "2025-03-10T12:00:00Z", fm.Record.TimestampKey)
}

// TestPipelineEndToEnd wires the full loop against real Kafka: raw
// measurements in, reconciled flagged records out, archive persisted.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	createTopic(t, broker, testRecentTopic)

	cfg := testConfig(broker)

	// Two sites, one hour of data; one dissolved oxygen reading below the
	// interference floor.
	start := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	var measurements []domain.RawMeasurement
	for i := 0; i < 4; i++ {
		ts := start.Add(time.Duration(i) * 15 * time.Minute)
		measurements = append(measurements,
			domain.RawMeasurement{Site: "bellvue", Parameter: domain.ParamDO, Timestamp: ts, Value: 8.0 + float64(i)*0.05, Units: "mg/L"},
			domain.RawMeasurement{Site: "lincoln", Parameter: domain.ParamDO, Timestamp: ts, Value: 7.5 + float64(i)*0.05, Units: "mg/L"},
		)
	}
	measurements = append(measurements, domain.RawMeasurement{
		Site: "bellvue", Parameter: domain.ParamDO,
		Timestamp: start.Add(time.Hour), Value: 3.0, Units: "mg/L",
	})

	payload, err := json.Marshal(measurements)
	require.NoError(t, err)

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Value: payload}))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	store, err := history.Open("file:"+filepath.Join(t.TempDir(), "history.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := qc.NewEngine(thresholds.Empty(), qc.DefaultParams(), discardLogger(), 4)
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, notes.Disabled{}, engine, store, writer,
		metrics, discardLogger(), 50, 45*24*time.Hour)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	// bellvue spans 5 intervals, lincoln 4.
	received := make([]flaggedMessage, 0, 9)
	for len(received) < 9 {
		received = append(received, readFlagged(ctx, t, consumer))
	}

	pipelineCancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	var lowDO *domain.OutputRecord
	for i := range received {
		rec := &received[i].Record
		assert.True(t, rec.Historical, "published records are reconciled history")
		if rec.Site == "bellvue" && rec.Mean != nil && *rec.Mean == 3.0 {
			lowDO = rec
		}
	}
	require.NotNil(t, lowDO, "expected the low dissolved oxygen record")
	require.NotNil(t, lowDO.AutoFlag)
	assert.Contains(t, *lowDO.AutoFlag, string(domain.FlagDOInterference))

	archived, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, archived, 9)
}
