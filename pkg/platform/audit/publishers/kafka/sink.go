// Package kafka streams audit events to a Kafka topic for downstream consumers.
//
// Compliance events are always produced. Operations events go through a
// sampler. A circuit breaker drops events while the broker is failing so a
// broker outage never slows the request path.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "herdbook/pkg/platform/audit"
	"herdbook/pkg/platform/circuit"
	"herdbook/pkg/platform/sentinel"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Sink struct {
	producer Producer
	topic    string
	sampler  *Sampler
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Sink)

func WithSampler(s *Sampler) Option {
	return func(k *Sink) {
		k.sampler = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(k *Sink) {
		k.breaker = b
	}
}

func WithMetrics(m *Metrics) Option {
	return func(k *Sink) {
		k.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(k *Sink) {
		k.logger = logger
	}
}

func New(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		sampler:  NewSampler(1),
		breaker:  circuit.New("audit-stream"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Append produces event keyed by its record ID so all events for a record land
// on one partition.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if event.Category != audit.CategoryCompliance && !s.sampler.ShouldSample(event.Action) {
		s.metrics.IncSampled()
		return nil
	}
	if !s.breaker.Allow() {
		s.metrics.IncCircuitBreakerDropped()
		return fmt.Errorf("audit stream circuit open: %w", sentinel.ErrUnavailable)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}
	if !event.RecordID.IsNil() {
		record.Key = []byte(event.RecordID.String())
	}

	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		s.metrics.IncProduceFailures()
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.metrics.SetCircuitBreakerState(true)
			s.logger.WarnContext(ctx, "audit stream circuit opened", "topic", s.topic, "error", err)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetCircuitBreakerState(false)
		s.logger.InfoContext(ctx, "audit stream circuit closed", "topic", s.topic)
	}
	s.metrics.IncProduced()
	return nil
}
