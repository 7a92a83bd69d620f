// Package kafka publishes job/robot lifecycle events to Kafka, replacing
// fmt.Printf delivery logging with a structured logger and wrapping sends
// in a circuit breaker so a degraded broker can't block the dispatch loop.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/metrics"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/resilience"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/events"
)

// EventPublisher publishes job/robot lifecycle events to Kafka.
type EventPublisher struct {
	producer sarama.AsyncProducer
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
	log      logger.Logger
	errors   chan error
}

// Config holds Kafka producer configuration.
type Config struct {
	Brokers []string
}

// NewEventPublisher creates a Kafka event publisher guarded by a circuit
// breaker: five consecutive publish failures open the breaker for 30s so a
// down broker fails fast instead of blocking every job update.
func NewEventPublisher(cfg *Config, m *metrics.Metrics, log logger.Logger) (*EventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := &EventPublisher{
		producer: producer,
		metrics:  m,
		log:      log,
		errors:   make(chan error, 100),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:            "kafka-event-publisher",
			MaxFailures:     5,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
		}),
	}

	go p.handleErrors()
	go p.handleSuccesses()
	return p, nil
}

// Publish serializes and sends event, topic-routed by its type.
func (p *EventPublisher) Publish(ctx context.Context, event *events.Event) error {
	err := p.breaker.Execute(ctx, func() error { return p.send(ctx, event) })
	if err != nil {
		p.metrics.KafkaPublishErrorsTotal.Inc()
		return err
	}
	p.metrics.KafkaEventsPublished.WithLabelValues(string(event.Type)).Inc()
	return nil
}

func (p *EventPublisher) send(ctx context.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: event.Topic(),
		Key:   sarama.StringEncoder(event.AggregateID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("eventType"), Value: []byte(event.Type)},
			{Key: []byte("correlationId"), Value: []byte(event.Metadata.CorrelationID)},
			{Key: []byte("aggregateType"), Value: []byte(event.AggregateType)},
		},
		Timestamp: event.Timestamp,
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.errors:
		return fmt.Errorf("producer error: %w", err)
	}
}

// Close closes the underlying producer.
func (p *EventPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	close(p.errors)
	return nil
}

func (p *EventPublisher) handleErrors() {
	for err := range p.producer.Errors() {
		select {
		case p.errors <- fmt.Errorf("kafka producer error: %w", err.Err):
		default:
			if p.log != nil {
				p.log.Error("kafka producer error, error channel full", "error", err.Err)
			}
		}
	}
}

func (p *EventPublisher) handleSuccesses() {
	for msg := range p.producer.Successes() {
		if p.log != nil {
			p.log.Debug("event delivered", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}
