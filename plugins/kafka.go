package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/beaconkit/beacon/plugin"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list.
	Brokers []string
	// Topic receives every dispatched call.
	Topic string
}

// kafkaWriter is the subset of kafka.Writer the sink uses; tests swap in a
// capture.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every dispatched call to a Kafka topic as a JSON message
// keyed by the dispatch method.
type Kafka struct {
	cfg    KafkaConfig
	writer kafkaWriter
	loaded atomic.Bool
}

// NewKafka creates the Kafka sink.
func NewKafka(cfg KafkaConfig) *Kafka {
	return &Kafka{cfg: cfg}
}

func (k *Kafka) Name() string { return "kafka" }

// Initialize builds the producer. Connection failures surface on the first
// write, matching the writer's lazy dialing.
func (k *Kafka) Initialize(ctx context.Context) error {
	if len(k.cfg.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	if k.cfg.Topic == "" {
		return fmt.Errorf("kafka: topic is required")
	}
	if k.writer == nil {
		k.writer = &kafka.Writer{
			Addr:     kafka.TCP(k.cfg.Brokers...),
			Topic:    k.cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	k.loaded.Store(true)
	return nil
}

func (k *Kafka) Loaded() bool { return k.loaded.Load() }

func (k *Kafka) Track(ctx context.Context, event *plugin.Event) error {
	return k.publish(ctx, plugin.MethodTrack, event)
}

func (k *Kafka) Page(ctx context.Context, view *plugin.PageView) error {
	return k.publish(ctx, plugin.MethodPage, view)
}

func (k *Kafka) Identify(ctx context.Context, identity *plugin.Identity) error {
	return k.publish(ctx, plugin.MethodIdentify, identity)
}

func (k *Kafka) publish(ctx context.Context, method plugin.Method, payload any) error {
	if k.writer == nil {
		return fmt.Errorf("kafka: not initialized")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: marshal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(method),
		Value: value,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

// Destroy closes the producer, flushing buffered messages.
func (k *Kafka) Destroy(ctx context.Context) error {
	k.loaded.Store(false)
	if k.writer == nil {
		return nil
	}
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close: %w", err)
	}
	return nil
}
