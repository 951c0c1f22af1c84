// Package kafka publishes memory lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/eventstream"
)

const (
	// DefaultTopic is the topic lifecycle events are written to.
	DefaultTopic = "intelmem.memory.events"

	// DefaultWriteTimeout bounds one produce call. Event publishing sits on
	// the write path but is advisory; a slow broker must not stall
	// mutations indefinitely.
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of broker addresses.
	Brokers []string

	// Topic defaults to DefaultTopic if empty.
	Topic string

	// WriteTimeout defaults to DefaultWriteTimeout if zero.
	WriteTimeout time.Duration
}

// Publisher writes lifecycle events to Kafka, keyed by user id so one
// user's events stay ordered within a partition.
type Publisher struct {
	writer  *kafkago.Writer
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a Kafka-backed event publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = DefaultWriteTimeout
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(cfg.Brokers...),
		Topic:    topic,
		Balancer: &kafkago.Hash{},
	}

	return &Publisher{
		writer:  writer,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", event.EventID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("writing event %s: %w", event.EventID, err)
	}

	p.logger.Debug("published memory event",
		zap.String("event_type", event.EventType),
		zap.String("user_id", event.UserID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
