// Package stream publishes lifecycle events to Kafka so external consumers
// (dashboards, alerting, audit) can follow service state changes.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cobaltlabs/conductor/pkg/config"
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
	"github.com/cobaltlabs/conductor/pkg/logging"
)

// flushTimeoutMs bounds the final flush on shutdown.
const flushTimeoutMs = 15 * 1000

// Publisher forwards lifecycle events from the registry bus to a Kafka topic.
type Publisher struct {
	producer *kafka.Producer
	topic    string
	logger   *logging.Logger

	cancel func()
	done   chan struct{}
}

// New creates a Kafka producer for the configured brokers.
func New(cfg config.KafkaConfig, logger *logging.Logger) (*Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
	}, nil
}

// Watch subscribes to the bus and publishes each event as a JSON message
// keyed by service name.
func (p *Publisher) Watch(bus *lifecycle.Bus) {
	events, cancel := bus.Subscribe()
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for ev := range events {
			p.publish(ev)
		}
	}()
}

func (p *Publisher) publish(ev lifecycle.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to encode lifecycle event", "type", ev.Type, "error", err)
		return
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.Service),
		Value:          data,
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		p.logger.Warn("failed to publish lifecycle event", "type", ev.Type, "error", err)
	}
}

// Ping fetches topic metadata to verify broker connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	_, err := p.producer.GetMetadata(&p.topic, false, 5000)
	return err
}

// Close stops watching, flushes pending messages and closes the producer.
func (p *Publisher) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	remaining := p.producer.Flush(flushTimeoutMs)
	if remaining > 0 {
		p.logger.Warn("kafka flush timed out with messages pending", "pending", remaining)
	}
	p.producer.Close()
	return nil
}

// Descriptor returns the lifecycle registration for the event publisher. The
// publisher starts watching the bus as part of its factory so events emitted
// after its own startup are captured.
func Descriptor(cfg config.KafkaConfig, bus *lifecycle.Bus, logger *logging.Logger) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:        "events",
		Description: "Kafka lifecycle event publisher",
		Tags:        []string{"messaging", "kafka"},
		// Event publishing is a nice-to-have; a missing broker should not
		// prevent the process from starting.
		Optional: true,
		Factory: func(ctx context.Context) (interface{}, error) {
			publisher, err := New(cfg, logger)
			if err != nil {
				return nil, err
			}
			publisher.Watch(bus)
			return publisher, nil
		},
		HealthCheck: func(ctx context.Context, instance interface{}) lifecycle.HealthResult {
			publisher := instance.(*Publisher)
			if err := publisher.Ping(ctx); err != nil {
				return lifecycle.HealthResult{Healthy: false, Message: err.Error()}
			}
			return lifecycle.HealthResult{Healthy: true}
		},
		Shutdown: func(ctx context.Context, instance interface{}) error {
			return instance.(*Publisher).Close()
		},
	}
}
