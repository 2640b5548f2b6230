// Package redis implements the queue contract on Redis lists.
// Producers LPUSH and consumers BRPOP, which gives FIFO order.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lsm/pricer/internal/queue"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("redis addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must be >= 0, got %d", c.DB)
	}
	return nil
}

// Client is a queue.Client and queue.Pusher backed by one Redis connection pool.
type Client struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

var (
	_ queue.Client = (*Client)(nil)
	_ queue.Pusher = (*Client)(nil)
)

// NewClient creates a Redis queue client. No connection is made until the
// first command.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, logger: logger}, nil
}

// Pop issues BRPOP on name. Redis counts the timeout in whole seconds.
func (c *Client) Pop(ctx context.Context, name string, timeout time.Duration) (*queue.Item, error) {
	res, err := c.rdb.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, goredis.Nil) {
		c.logger.Debug("brpop timed out", "queue", name, "timeout", timeout)
		return nil, nil
	}
	if err != nil {
		return nil, wrap("brpop", name, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply length %d", name, len(res))
	}
	return &queue.Item{Queue: res[0], Payload: res[1]}, nil
}

// Push issues LPUSH so that BRPOP consumers see payloads in order.
func (c *Client) Push(ctx context.Context, name string, payloads ...string) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := c.rdb.LPush(ctx, name, values...).Err(); err != nil {
		return wrap("lpush", name, err)
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func wrap(op, name string, err error) error {
	if errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("%s %s: %w", op, name, queue.ErrClosed)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
