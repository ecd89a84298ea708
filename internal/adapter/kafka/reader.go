package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/config"
	"github.com/couchcryptid/river-qc-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes raw measurement messages from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a consumer-group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch reads up to batchSize messages. The first message is awaited
// on the caller's context; once a batch is open it is closed after the flush
// interval elapses with no further messages, so a quiet feed still produces
// complete runs.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawBatch, error) {
	var batch []domain.RawBatch

	for len(batch) < batchSize {
		fetchCtx := ctx
		var cancel context.CancelFunc
		if len(batch) > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, r.flushInterval)
		}

		msg, err := r.reader.FetchMessage(fetchCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if len(batch) > 0 && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
				return batch, nil
			}
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			return nil, err
		}

		batch = append(batch, mapMessageToRawBatch(r.reader, msg))
	}
	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawBatch wraps a fetched message with a commit callback bound
// to the reader's consumer group.
func mapMessageToRawBatch(reader *kafkago.Reader, msg kafkago.Message) domain.RawBatch {
	return domain.RawBatch{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Commit: func(ctx context.Context) error {
			return reader.CommitMessages(ctx, msg)
		},
	}
}
