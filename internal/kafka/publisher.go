package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/twmb/franz-go/pkg/kgo"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Message is one record to produce. Headers are written in key order.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

func (m Message) record(topic string) *kgo.Record {
	rec := &kgo.Record{Topic: topic, Key: m.Key, Value: m.Value}
	if len(m.Headers) == 0 {
		return rec
	}
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rec.Headers = make([]kgo.RecordHeader, len(keys))
	for i, k := range keys {
		rec.Headers[i] = kgo.RecordHeader{Key: k, Value: []byte(m.Headers[k])}
	}
	return rec
}

// Publisher is a produce-only client. The Kafka result sink, the dead-letter
// handler and the producer command share it.
type Publisher struct {
	client producer
}

// NewPublisher validates cfg and connects lazily; no broker is contacted
// until the first Send.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Publisher{client: cl}, nil
}

// Send produces msgs to topic and waits until the broker has acknowledged
// all of them. Every failed record is reported.
func (p *Publisher) Send(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	recs := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		recs[i] = m.record(topic)
	}

	var errs []error
	for _, res := range p.client.ProduceSync(ctx, recs...) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("produce %d of %d records to %s: %w", len(errs), len(msgs), topic, errors.Join(errs...))
	}
	return nil
}

// Publish sends a single record; it satisfies dlq.Publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	return p.Send(ctx, topic, Message{Key: key, Value: value, Headers: headers})
}

// Close releases the client. Send is synchronous, so nothing is pending.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
