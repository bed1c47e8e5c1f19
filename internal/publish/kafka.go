// Package publish forwards detection events to message brokers.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"driveguard/internal/events"
)

// KafkaConfig configures the Kafka forwarder
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every event to a topic, keyed by event kind
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewKafkaPublisher creates an asynchronous writer; delivery failures are
// logged from the writer's completion callback.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.SugaredLogger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warnw("kafka delivery failed", "topic", cfg.Topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.SugaredLogger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KafkaPublisher{writer: w, timeout: 5 * time.Second, logger: logger}
}

// OnEvent implements events.Handler
func (p *KafkaPublisher) OnEvent(ev events.Event) {
	payload, err := json.Marshal(ev.Record())
	if err != nil {
		p.logger.Errorw("failed to encode event", "event_id", ev.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Kind),
		Value: payload,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		p.logger.Warnw("failed to publish event to kafka", "event_id", ev.ID, "error", err)
	}
}

// Close flushes pending messages
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
