// Package queue defines the blocking work-queue contract shared by all
// queue backends.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultName is the queue pricing events are pushed to.
const DefaultName = "events_queue"

// DefaultPopTimeout bounds how long a worker waits for the next event.
const DefaultPopTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("queue client closed")

// Item is a payload popped from a named queue.
type Item struct {
	Queue   string
	Payload string
}

// Client pops items from a shared queue. Each item is delivered to exactly
// one of the clients competing on the same queue.
type Client interface {
	// Pop blocks until an item is available on queue or timeout elapses.
	// It returns nil, nil when the timeout elapses with no data.
	Pop(ctx context.Context, queue string, timeout time.Duration) (*Item, error)

	// Close releases the connection.
	Close() error
}

// Pusher appends payloads to a named queue.
type Pusher interface {
	Push(ctx context.Context, queue string, payloads ...string) error
}
