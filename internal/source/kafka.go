// Package source feeds the pipeline from a Kafka topic, for producers that
// publish events to a broker instead of the HTTP endpoint.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/pipeline"
)

type KafkaSource struct {
	reader *kafka.Reader
	pipe   *pipeline.Pipeline
	logger *slog.Logger
}

func NewKafkaSource(brokers []string, groupID, topic string, pipe *pipeline.Pipeline, logger *slog.Logger) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka source requires at least one broker")
	}
	if groupID == "" {
		return nil, errors.New("kafka source requires a group id")
	}
	if topic == "" {
		return nil, errors.New("kafka source requires a topic")
	}
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &KafkaSource{reader: reader, pipe: pipe, logger: logger}, nil
}

// Run consumes until ctx is cancelled. QueueFull pauses consumption briefly
// and resubmits the same event: the broker is the producer here, so slowing
// the reader IS the shed policy. Invalid payloads are counted and skipped.
func (s *KafkaSource) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			s.logger.Warn("kafka read failed", "operation", "kafka_read", "error", err)
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			s.logger.Warn("kafka message not a log event, skipping",
				"operation", "kafka_decode", "offset", msg.Offset, "error", err)
			continue
		}

		for {
			err := s.pipe.Submit(ev)
			if err == nil {
				break
			}
			if errors.Is(err, pipeline.ErrQueueFull) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
			if errors.Is(err, pipeline.ErrClosed) {
				return err
			}
			// Invalid event: the producer's problem, not a reason to stall.
			s.logger.Warn("kafka event rejected",
				"operation", "kafka_submit", "event_id", ev.ID, "error", err)
			break
		}
	}
}

// decodeEvent unmarshals one broker payload. Latency eligibility is
// inferred from the presence of response_time_ms, the same rule the HTTP
// ingest applies, so both intakes agree on which events carry percentile
// samples.
func decodeEvent(data []byte) (model.LogEvent, error) {
	var payload struct {
		model.LogEvent
		ResponseTimeMs *float64 `json:"response_time_ms"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.LogEvent{}, err
	}
	ev := payload.LogEvent
	if payload.ResponseTimeMs != nil {
		ev.ResponseTimeMs = *payload.ResponseTimeMs
		ev.HasLatency = true
	}
	return ev, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
