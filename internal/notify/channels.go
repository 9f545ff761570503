package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// LogChannel writes notifications to a zerolog logger.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string { return "log" }

// IsEnabled always returns true.
func (l *LogChannel) IsEnabled() bool { return true }

// Send logs the notification.
func (l *LogChannel) Send(ctx context.Context, n Notification) error {
	event := l.logger.Info()
	if n.Type == NotificationError {
		event = l.logger.Error()
	}
	event.
		Str("event", "notification").
		Str("type", string(n.Type)).
		Str("session_id", n.SessionID).
		Int("tick", n.Tick).
		Fields(n.Data).
		Msg(n.Title)
	return nil
}

// KafkaConfig holds Kafka channel configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Async        bool
}

// KafkaOption configures a KafkaChannel.
type KafkaOption func(*KafkaConfig)

// WithBrokers sets the broker addresses.
func WithBrokers(brokers ...string) KafkaOption {
	return func(c *KafkaConfig) { c.Brokers = brokers }
}

// WithTopic sets the destination topic.
func WithTopic(topic string) KafkaOption {
	return func(c *KafkaConfig) { c.Topic = topic }
}

// WithBatch sets the writer batching. Zero values keep the defaults.
func WithBatch(size int, timeout time.Duration) KafkaOption {
	return func(c *KafkaConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if timeout > 0 {
			c.BatchTimeout = timeout
		}
	}
}

// WithAsync makes writes fire-and-forget.
func WithAsync(async bool) KafkaOption {
	return func(c *KafkaConfig) { c.Async = async }
}

// messageWriter is the subset of *kafka.Writer the channel needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes notifications as JSON messages keyed by session.
type KafkaChannel struct {
	writer messageWriter
	topic  string
}

// NewKafkaChannel creates a KafkaChannel.
func NewKafkaChannel(opts ...KafkaOption) (*KafkaChannel, error) {
	cfg := &KafkaConfig{
		Topic:        "marketsim.events",
		RequiredAcks: -1,
		BatchSize:    100,
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Async:        cfg.Async,
	}
	return &KafkaChannel{writer: writer, topic: cfg.Topic}, nil
}

// Name returns the name of the channel.
func (k *KafkaChannel) Name() string { return "kafka" }

// IsEnabled returns whether the channel has a writer.
func (k *KafkaChannel) IsEnabled() bool { return k.writer != nil }

// Send publishes the notification. The session id is the key so one
// session's events stay ordered on one partition.
func (k *KafkaChannel) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.SessionID),
		Value: value,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaChannel) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}
