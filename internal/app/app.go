// Package app builds pricer components from a config.Config. The binaries
// under cmd/ and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/dlq"
	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/queue"
	kafkaqueue "github.com/lsm/pricer/internal/queue/kafka"
	"github.com/lsm/pricer/internal/queue/memory"
	"github.com/lsm/pricer/internal/queue/redis"
	"github.com/lsm/pricer/internal/sink"
	csvsink "github.com/lsm/pricer/internal/sink/csv"
	kafkasink "github.com/lsm/pricer/internal/sink/kafka"
	logsink "github.com/lsm/pricer/internal/sink/log"
	"github.com/lsm/pricer/internal/supervisor"
	"github.com/lsm/pricer/internal/transform/discount"
	"github.com/lsm/pricer/internal/worker"
)

// Components holds the shared resources built from a config. Close releases them.
type Components struct {
	Transformer *discount.Transformer
	Queues      supervisor.QueueFactory
	Pusher      queue.Pusher
	DeadLetter  *dlq.Handler
	Sinks       []sink.Sink

	closers []io.Closer
}

// Build creates every component the config asks for. On error, whatever was
// already opened is closed.
func Build(cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.Transformer, err = NewTransformer(cfg.Transform); err != nil {
		return nil, err
	}
	if err = c.buildQueue(cfg.Queue, logger); err != nil {
		return nil, err
	}
	if cfg.Worker.IsolateFailures {
		if err = c.buildDeadLetter(cfg); err != nil {
			return nil, err
		}
	}
	if c.Sinks, err = NewSinks(cfg.Sinks, logger); err != nil {
		return nil, err
	}
	for _, s := range c.Sinks {
		c.closers = append(c.closers, s)
	}
	return c, nil
}

// NewTransformer builds the discount transformer.
func NewTransformer(cfg config.TransformConfig) (*discount.Transformer, error) {
	var opts []discount.Option
	if cfg.Fingerprint != "" {
		opts = append(opts, discount.WithAlgorithm(discount.Algorithm(cfg.Fingerprint)))
	}
	if cfg.RoundPlaces != nil {
		opts = append(opts, discount.WithRounding(*cfg.RoundPlaces))
	}
	return discount.New(opts...)
}

func (c *Components) buildQueue(cfg config.QueueConfig, logger *slog.Logger) error {
	if cfg.Backend == config.BackendMemory {
		q := memory.New()
		c.Pusher = q
		c.closers = append(c.closers, q)
		c.Queues = func(context.Context, int) (queue.Client, error) { return q.Shared(), nil }
		return nil
	}

	queues, err := NewQueueFactory(cfg, logger)
	if err != nil {
		return err
	}
	pusher, err := NewPusher(cfg, logger)
	if err != nil {
		return err
	}
	c.Queues = queues
	c.Pusher = pusher
	c.closers = append(c.closers, pusher)
	return nil
}

// NewQueueFactory returns a factory that dials a fresh client per unit, so a
// blocked pop never holds another unit's connection.
func NewQueueFactory(cfg config.QueueConfig, logger *slog.Logger) (supervisor.QueueFactory, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		if err := cfg.Redis.Validate(); err != nil {
			return nil, err
		}
		return func(context.Context, int) (queue.Client, error) {
			return redis.NewClient(cfg.Redis, logger)
		}, nil
	case config.BackendKafka:
		kcfg := kafkaqueue.Config{
			Cluster:       cfg.Kafka.Cluster,
			Topic:         cfg.Name,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			StartOffset:   cfg.Kafka.StartOffset,
			MaxBuffered:   cfg.Kafka.MaxBuffered,
		}
		return func(context.Context, int) (queue.Client, error) {
			return kafkaqueue.NewClient(kcfg, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
}

// Pusher is a queue.Pusher that owns a connection.
type Pusher interface {
	queue.Pusher
	io.Closer
}

// NewPusher opens a producer for the Redis or Kafka backend.
func NewPusher(cfg config.QueueConfig, logger *slog.Logger) (Pusher, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		p, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return p, nil
	case config.BackendKafka:
		pub, err := kafka.NewPublisher(cfg.Kafka.Cluster)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		return &publisherPusher{pub: pub}, nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
}

func (c *Components) buildDeadLetter(cfg *config.Config) error {
	var pub dlq.Publisher
	switch cfg.DeadLetter.Backend {
	case config.DeadLetterQueue:
		pub = dlq.NewQueuePublisher(c.Pusher)
	case config.DeadLetterKafka:
		kp, err := kafka.NewPublisher(cfg.DeadLetter.Kafka)
		if err != nil {
			return fmt.Errorf("dead-letter publisher: %w", err)
		}
		pub = kp
	default:
		return fmt.Errorf("unsupported dead-letter backend %q", cfg.DeadLetter.Backend)
	}
	c.DeadLetter = dlq.NewHandler(pub, dlq.WithTopicFunc(cfg.DeadLetterTopic))
	c.closers = append(c.closers, c.DeadLetter)
	return nil
}

// NewSinks builds every configured sink. On error, the sinks already built are closed.
func NewSinks(cfgs []config.SinkConfig, logger *slog.Logger) ([]sink.Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []sink.Sink
	for i, sc := range cfgs {
		s, err := newSink(sc, logger)
		if err != nil {
			for _, built := range sinks {
				_ = built.Close()
			}
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newSink(sc config.SinkConfig, logger *slog.Logger) (sink.Sink, error) {
	switch sc.Type {
	case config.SinkLog:
		return logsink.NewSink(logger.With("sink", "log")), nil
	case config.SinkCSV:
		var cc csvsink.Config
		if sc.CSV != nil {
			cc = csvsink.Config{Path: sc.CSV.Path, Dir: sc.CSV.Dir, Prefix: sc.CSV.Prefix}
		}
		return csvsink.NewSink(cc)
	case config.SinkKafka:
		if sc.Kafka == nil {
			return nil, errors.New("kafka sink needs a kafka section")
		}
		return kafkasink.NewSink(kafkasink.Config{
			Cluster:   sc.Kafka.Cluster,
			Topic:     sc.Kafka.Topic,
			Source:    sc.Kafka.Source,
			EventType: sc.Kafka.EventType,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported sink type %q", sc.Type)
	}
}

// WorkerConfig returns the per-worker settings from cfg.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Queue:           cfg.Queue.Name,
		PopTimeout:      cfg.Queue.PopTimeout,
		IsolateFailures: cfg.Worker.IsolateFailures,
	}
}

// Close releases every component in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// publisherPusher pushes payloads as Kafka records so that the producer
// command and the dead-letter handler work on a Kafka queue backend. It
// avoids joining the consumer group that a kafka queue Client needs.
type publisherPusher struct {
	pub *kafka.Publisher
}

func (p *publisherPusher) Push(ctx context.Context, name string, payloads ...string) error {
	msgs := make([]kafka.Message, len(payloads))
	for i, payload := range payloads {
		msgs[i] = kafka.Message{Value: []byte(payload)}
	}
	return p.pub.Send(ctx, name, msgs...)
}

func (p *publisherPusher) Close() error { return p.pub.Close() }
