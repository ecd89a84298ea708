package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/config"
	"github.com/couchcryptid/river-qc-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes flagged output records to the sink topics: the full
// reconciled record and the recent view for lightweight consumers.
// It implements pipeline.Publisher.
type Writer struct {
	full   *kafkago.Writer
	recent *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates producers for the configured sink and recent-view topics.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	newTopicWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireAll,
		}
	}
	return &Writer{
		full:   newTopicWriter(cfg.KafkaSinkTopic),
		recent: newTopicWriter(cfg.KafkaRecentTopic),
		logger: logger,
	}
}

// PublishRecords writes the full reconciled record set in one batched call.
func (w *Writer) PublishRecords(ctx context.Context, records []domain.OutputRecord) error {
	return publish(ctx, w.full, records)
}

// PublishRecent writes the trailing-window view in one batched call.
func (w *Writer) PublishRecent(ctx context.Context, records []domain.OutputRecord) error {
	return publish(ctx, w.recent, records)
}

func (w *Writer) Close() error {
	if err := w.full.Close(); err != nil {
		return err
	}
	return w.recent.Close()
}

func publish(ctx context.Context, writer *kafkago.Writer, records []domain.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return writer.WriteMessages(ctx, msgs...)
}

// serializeToMessage marshals an output record into a Kafka message keyed by
// (site, parameter, timestamp_key) so replays land on the same partition.
func serializeToMessage(rec domain.OutputRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize output record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.Site + "|" + rec.Parameter + "|" + rec.TimestampKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "site", Value: []byte(rec.Site)},
			{Key: "parameter", Value: []byte(rec.Parameter)},
			{Key: "processed_at", Value: []byte(domain.Now().Format(time.RFC3339))},
		},
	}, nil
}
