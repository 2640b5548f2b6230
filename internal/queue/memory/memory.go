// Package memory provides an in-process blocking FIFO queue.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lsm/pricer/internal/queue"
)

// Queue is a set of named in-memory FIFO lists safe for concurrent use.
// Several workers may share one Queue as competing consumers.
type Queue struct {
	mu     sync.Mutex
	items  map[string][]string
	signal chan struct{}
	closed bool
}

var (
	_ queue.Client = (*Queue)(nil)
	_ queue.Pusher = (*Queue)(nil)
)

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		items:  make(map[string][]string),
		signal: make(chan struct{}),
	}
}

// Push appends payloads to the tail of the named list.
func (q *Queue) Push(_ context.Context, name string, payloads ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.items[name] = append(q.items[name], payloads...)
	q.broadcast()
	return nil
}

// Pop removes the head of the named list, waiting up to timeout for one to
// arrive. A timeout <= 0 waits until ctx is done.
func (q *Queue) Pop(ctx context.Context, name string, timeout time.Duration) (*queue.Item, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		if list := q.items[name]; len(list) > 0 {
			payload := list[0]
			q.items[name] = list[1:]
			q.mu.Unlock()
			return &queue.Item{Queue: name, Payload: payload}, nil
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of items waiting on the named list.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[name])
}

// Close wakes all blocked callers; later calls fail with queue.ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}

// broadcast must be called with mu held.
func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Shared returns a Client view of q whose Close leaves q open, so several
// workers can each own a client backed by the same lists.
func (q *Queue) Shared() queue.Client {
	return sharedView{q}
}

type sharedView struct {
	*Queue
}

func (sharedView) Close() error { return nil }
