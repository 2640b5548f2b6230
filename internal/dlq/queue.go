package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lsm/pricer/internal/queue"
)

// Envelope is how a dead-lettered payload is stored on a list-based queue,
// which has no record headers of its own.
type Envelope struct {
	Key     string            `json:"key,omitempty"`
	Payload string            `json:"payload"`
	Headers map[string]string `json:"headers"`
}

// QueuePublisher pushes JSON envelopes onto a queue backend, so that a Redis
// deployment keeps its dead letters next to events_queue.
// It does not own the pusher; Close is a no-op.
type QueuePublisher struct {
	pusher queue.Pusher
}

// NewQueuePublisher creates a publisher that pushes envelopes with p.
func NewQueuePublisher(p queue.Pusher) *QueuePublisher {
	return &QueuePublisher{pusher: p}
}

// Publish pushes one envelope onto the list named topic.
func (q *QueuePublisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	data, err := json.Marshal(Envelope{Key: string(key), Payload: string(value), Headers: headers})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return q.pusher.Push(ctx, topic, string(data))
}

func (q *QueuePublisher) Close() error { return nil }

// DecodeEnvelope parses an envelope pushed by QueuePublisher.
func DecodeEnvelope(data string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}
