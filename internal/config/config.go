// Package config loads pricer configuration from YAML, then applies
// environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/queue"
	"github.com/lsm/pricer/internal/queue/redis"
	"github.com/lsm/pricer/internal/transform/discount"
)

// Queue backends.
const (
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendMemory = "memory"
)

// Sink types.
const (
	SinkCSV   = "csv"
	SinkKafka = "kafka"
	SinkLog   = "log"
)

// Dead-letter backends. "queue" pushes envelopes with the queue backend.
const (
	DeadLetterQueue = "queue"
	DeadLetterKafka = "kafka"
)

// Config is the complete pricer configuration.
type Config struct {
	Queue         QueueConfig         `yaml:"queue"`
	Worker        WorkerConfig        `yaml:"worker"`
	Transform     TransformConfig     `yaml:"transform"`
	Sinks         []SinkConfig        `yaml:"sinks"`
	DeadLetter    DeadLetterConfig    `yaml:"deadLetter"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// QueueConfig selects and configures the queue backend.
type QueueConfig struct {
	Backend    string           `yaml:"backend"`
	Name       string           `yaml:"name"`
	PopTimeout time.Duration    `yaml:"popTimeout"`
	Redis      redis.Config     `yaml:"redis"`
	Kafka      KafkaQueueConfig `yaml:"kafka"`
}

// KafkaQueueConfig configures the Kafka queue backend. The topic is the queue name.
type KafkaQueueConfig struct {
	Cluster       kafka.Config `yaml:"cluster"`
	ConsumerGroup string       `yaml:"consumerGroup"`
	StartOffset   string       `yaml:"startOffset"`
	MaxBuffered   int          `yaml:"maxBuffered"`
}

// WorkerConfig configures the in-process workers.
type WorkerConfig struct {
	Count           int  `yaml:"count"`
	ResultBuffer    int  `yaml:"resultBuffer"`
	IsolateFailures bool `yaml:"isolateFailures"`
}

// TransformConfig configures pricing and fingerprinting.
type TransformConfig struct {
	Fingerprint string `yaml:"fingerprint"`
	RoundPlaces *int32 `yaml:"roundPlaces,omitempty"`
}

// SinkConfig configures one result sink.
type SinkConfig struct {
	Type  string           `yaml:"type"`
	CSV   *CSVSinkConfig   `yaml:"csv,omitempty"`
	Kafka *KafkaSinkConfig `yaml:"kafka,omitempty"`
}

// CSVSinkConfig configures the CSV sink.
type CSVSinkConfig struct {
	Path   string `yaml:"path,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Cluster   kafka.Config `yaml:"cluster"`
	Topic     string       `yaml:"topic"`
	Source    string       `yaml:"source,omitempty"`
	EventType string       `yaml:"eventType,omitempty"`
}

// DeadLetterConfig configures where isolated failures go.
type DeadLetterConfig struct {
	Backend string       `yaml:"backend"`
	Suffix  string       `yaml:"suffix"`
	Kafka   kafka.Config `yaml:"kafka"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel     string `yaml:"logLevel"`
	MetricsAddr  string `yaml:"metricsAddr"`
	Tracing      bool   `yaml:"tracing"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Default returns the configuration used when no file is given: one Redis
// worker on events_queue with a 5s pop timeout, results to the log.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Backend:    BackendRedis,
			Name:       queue.DefaultName,
			PopTimeout: queue.DefaultPopTimeout,
			Redis:      redis.Config{Addr: "localhost:6379"},
			Kafka:      KafkaQueueConfig{ConsumerGroup: "pricer", StartOffset: "earliest"},
		},
		Worker: WorkerConfig{
			Count:        1,
			ResultBuffer: 256,
		},
		Transform: TransformConfig{
			Fingerprint: string(discount.MD5),
		},
		Sinks: []SinkConfig{{Type: SinkLog}},
		DeadLetter: DeadLetterConfig{
			Backend: DeadLetterQueue,
			Suffix:  "_dead",
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			MetricsAddr:  ":9090",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load reads path over the defaults, applies environment overrides, and
// validates. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode strictly decodes YAML into cfg. Unknown keys are errors.
// An empty document leaves cfg unchanged.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv applies PRICER_* overrides read through lookup. REDIS_HOST is
// honoured when PRICER_REDIS_ADDR is unset; a missing port defaults to 6379.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	if v, ok := lookup("PRICER_QUEUE_BACKEND"); ok && v != "" {
		c.Queue.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("PRICER_REDIS_ADDR"); ok && v != "" {
		c.Queue.Redis.Addr = v
	} else if v, ok := lookup("REDIS_HOST"); ok && v != "" {
		c.Queue.Redis.Addr = withDefaultPort(v, "6379")
	}
	if v, ok := lookup("PRICER_QUEUE_NAME"); ok && v != "" {
		c.Queue.Name = v
	}
	if v, ok := lookup("PRICER_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICER_WORKERS: %w", err))
		} else {
			c.Worker.Count = n
		}
	}
	if v, ok := lookup("PRICER_LOG_LEVEL"); ok && v != "" {
		c.Observability.LogLevel = v
	}
	if v, ok := lookup("PRICER_METRICS_ADDR"); ok {
		c.Observability.MetricsAddr = v
	}
	if v, ok := lookup("PRICER_OTEL_ENABLED"); ok && v != "" {
		c.Observability.Tracing = strings.EqualFold(v, "true")
	}

	return errors.Join(errs...)
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Queue.Backend {
	case BackendRedis:
		if err := c.Queue.Redis.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("queue.redis: %w", err))
		}
	case BackendKafka:
		if err := c.Queue.Kafka.Cluster.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("queue.kafka.cluster: %w", err))
		}
		if c.Queue.Kafka.ConsumerGroup == "" {
			errs = append(errs, errors.New("queue.kafka.consumerGroup is required"))
		}
		if o := c.Queue.Kafka.StartOffset; o != "" && o != "earliest" && o != "latest" {
			errs = append(errs, fmt.Errorf("queue.kafka.startOffset must be earliest or latest, got %q", o))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be one of redis, kafka, memory, got %q", c.Queue.Backend))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if c.Queue.PopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue.popTimeout must be positive, got %s", c.Queue.PopTimeout))
	}

	if c.Worker.Count < 1 {
		errs = append(errs, fmt.Errorf("worker.count must be >= 1, got %d", c.Worker.Count))
	}
	if c.Worker.ResultBuffer < 0 {
		errs = append(errs, fmt.Errorf("worker.resultBuffer must be >= 0, got %d", c.Worker.ResultBuffer))
	}

	if !discount.Algorithm(c.Transform.Fingerprint).Valid() {
		errs = append(errs, fmt.Errorf("transform.fingerprint must be md5 or sha256, got %q", c.Transform.Fingerprint))
	}
	if p := c.Transform.RoundPlaces; p != nil && *p < 0 {
		errs = append(errs, fmt.Errorf("transform.roundPlaces must be >= 0, got %d", *p))
	}

	for i, s := range c.Sinks {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
		}
	}

	if c.Worker.IsolateFailures {
		switch c.DeadLetter.Backend {
		case DeadLetterQueue:
			if c.Queue.Backend == BackendKafka {
				errs = append(errs, errors.New("deadLetter.backend queue is not supported with the kafka queue backend, use kafka"))
			}
		case DeadLetterKafka:
			if err := c.DeadLetter.Kafka.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("deadLetter.kafka: %w", err))
			}
		default:
			errs = append(errs, fmt.Errorf("deadLetter.backend must be queue or kafka, got %q", c.DeadLetter.Backend))
		}
		if c.DeadLetter.Suffix == "" {
			errs = append(errs, errors.New("deadLetter.suffix is required"))
		}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logLevel %q is not one of debug, info, warn, error", c.Observability.LogLevel))
	}

	return errors.Join(errs...)
}

func (s SinkConfig) validate() error {
	switch s.Type {
	case SinkLog:
		return nil
	case SinkCSV:
		if s.CSV == nil {
			return nil
		}
		if s.CSV.Path != "" && (s.CSV.Dir != "" || s.CSV.Prefix != "") {
			return errors.New("csv.path cannot be combined with csv.dir or csv.prefix")
		}
		return nil
	case SinkKafka:
		if s.Kafka == nil {
			return errors.New("kafka sink needs a kafka section")
		}
		var errs []error
		if s.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required"))
		}
		if err := s.Kafka.Cluster.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("kafka.cluster: %w", err))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("type must be one of csv, kafka, log, got %q", s.Type)
	}
}

// DeadLetterTopic returns the dead-letter destination for queue name.
func (c *Config) DeadLetterTopic(name string) string {
	return name + c.DeadLetter.Suffix
}
