// Package kafka implements the queue contract on a Kafka topic consumed by
// a consumer group, so that competing workers split the partitions.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/queue"
)

// Config holds Kafka queue configuration.
type Config struct {
	Cluster       kafka.Config
	Topic         string
	ConsumerGroup string
	StartOffset   string // "earliest" or "latest" (default: "earliest")
	MaxBuffered   int    // records fetched per poll (default: 100)
}

// client abstracts the kgo.Client methods used by Client for testing.
type client interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Client pops records from a single topic. Each record is committed as it
// is handed out, so a popped item is not redelivered to another worker.
type Client struct {
	client      client
	topic       string
	maxBuffered int
	buffered    []*kgo.Record
	logger      *slog.Logger
}

var (
	_ queue.Client = (*Client)(nil)
	_ queue.Pusher = (*Client)(nil)
)

// NewClient creates a consumer-group member for cfg.Topic.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := cfg.Cluster.Options()
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	offset := kgo.NewOffset().AtStart()
	if cfg.StartOffset == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}
	opts = append(opts,
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newClient(cl, cfg.Topic, cfg.MaxBuffered, logger), nil
}

func newClient(cl client, topic string, maxBuffered int, logger *slog.Logger) *Client {
	if maxBuffered <= 0 {
		maxBuffered = 100
	}
	return &Client{
		client:      cl,
		topic:       topic,
		maxBuffered: maxBuffered,
		logger:      logger,
	}
}

// Pop returns the next record of the topic, polling for up to timeout when
// nothing is buffered. A Client is bound to one topic; name must match it.
func (c *Client) Pop(ctx context.Context, name string, timeout time.Duration) (*queue.Item, error) {
	if name != c.topic {
		return nil, fmt.Errorf("kafka queue is bound to topic %q, not %q", c.topic, name)
	}

	if len(c.buffered) == 0 {
		if err := c.poll(ctx, timeout); err != nil {
			return nil, err
		}
		if len(c.buffered) == 0 {
			return nil, nil
		}
	}

	rec := c.buffered[0]
	c.buffered = c.buffered[1:]

	c.client.MarkCommitRecords(rec)
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Error("commit error", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
	}

	return &queue.Item{Queue: rec.Topic, Payload: string(rec.Value)}, nil
}

func (c *Client) poll(ctx context.Context, timeout time.Duration) error {
	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fetches := c.client.PollRecords(pollCtx, c.maxBuffered)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, fe := range fetches.Errors() {
		switch {
		case errors.Is(fe.Err, context.DeadlineExceeded), errors.Is(fe.Err, context.Canceled):
			// poll window elapsed
		case errors.Is(fe.Err, kgo.ErrClientClosed):
			return queue.ErrClosed
		default:
			return fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
		}
	}

	fetches.EachRecord(func(rec *kgo.Record) {
		c.buffered = append(c.buffered, rec)
	})
	return nil
}

// Push produces one record per payload to the named topic.
func (c *Client) Push(ctx context.Context, name string, payloads ...string) error {
	if len(payloads) == 0 {
		return nil
	}
	records := make([]*kgo.Record, len(payloads))
	for i, p := range payloads {
		records[i] = &kgo.Record{Topic: name, Value: []byte(p)}
	}
	if err := c.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce to %s: %w", name, err)
	}
	return nil
}

// Close leaves the consumer group and closes the client.
func (c *Client) Close() error {
	c.client.Close()
	return nil
}
