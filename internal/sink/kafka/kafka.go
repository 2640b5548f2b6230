// Package kafka publishes results to a Kafka topic as structured CloudEvents.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/sink"
	"github.com/lsm/pricer/internal/tracing"
)

// Defaults for the CloudEvent envelope.
const (
	DefaultSource    = "pricer"
	DefaultEventType = "com.pricer.result"
)

// publisher abstracts the kafka publisher for testing.
type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// Config holds Kafka sink configuration.
type Config struct {
	Cluster   kafka.Config
	Topic     string
	Source    string // CloudEvent source (default: "pricer")
	EventType string // CloudEvent type (default: "com.pricer.result")
}

// Sink delivers results to a Kafka topic, keyed by fingerprint.
type Sink struct {
	publisher publisher
	topic     string
	source    string
	eventType string
	logger    *slog.Logger
	newID     func() string
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates a new Kafka sink.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	pub, err := kafka.NewPublisher(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return newSink(pub, cfg, logger), nil
}

func newSink(pub publisher, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.EventType == "" {
		cfg.EventType = DefaultEventType
	}
	return &Sink{
		publisher: pub,
		topic:     cfg.Topic,
		source:    cfg.Source,
		eventType: cfg.EventType,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

func (s *Sink) Name() string { return "kafka" }

// Deliver wraps r in a CloudEvent and publishes it.
func (s *Sink) Deliver(ctx context.Context, r report.Result) error {
	data, err := s.encode(r)
	if err != nil {
		return err
	}

	headers := map[string]string{"content-type": cloudevents.ApplicationCloudEventsJSON}
	tracing.Propagator().Inject(ctx, propagation.MapCarrier(headers))

	if err := s.publisher.Publish(ctx, s.topic, []byte(r.Fingerprint), data, headers); err != nil {
		s.logger.Error("delivery failed", "topic", s.topic, "fingerprint", r.Fingerprint, "error", err)
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *Sink) encode(r report.Result) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(s.newID())
	event.SetSource(s.source)
	event.SetType(s.eventType)
	event.SetSubject(r.Fingerprint)
	event.SetTime(time.UnixMilli(r.Timestamp).UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, r); err != nil {
		return nil, fmt.Errorf("cloudevent data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevent: %w", err)
	}
	return json.Marshal(event)
}

// Close shuts down the Kafka publisher.
func (s *Sink) Close() error {
	return s.publisher.Close()
}
