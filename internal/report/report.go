// Package report carries worker results to the supervising process.
// The channel is one-way: a reporter never waits for an acknowledgement.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Result is what a worker reports for each processed event.
// On the wire it is the JSON array [timestampMillis, index, fingerprint].
type Result struct {
	Timestamp   int64
	Index       json.RawMessage
	Fingerprint string
}

// MarshalJSON encodes r as a three-element array.
func (r Result) MarshalJSON() ([]byte, error) {
	index := r.Index
	if len(index) == 0 {
		index = json.RawMessage("null")
	}
	return json.Marshal([]any{r.Timestamp, index, r.Fingerprint})
}

// UnmarshalJSON decodes the three-element array form.
func (r *Result) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("decode result: expected 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.Timestamp); err != nil {
		return fmt.Errorf("decode result timestamp: %w", err)
	}
	if err := json.Unmarshal(parts[2], &r.Fingerprint); err != nil {
		return fmt.Errorf("decode result fingerprint: %w", err)
	}
	r.Index = append(json.RawMessage(nil), bytes.TrimSpace(parts[1])...)
	return nil
}

// Reporter delivers results to the supervising process.
type Reporter interface {
	Send(ctx context.Context, r Result) error
}

// ErrClosed is returned by Send after the reporter has been closed.
var ErrClosed = errors.New("reporter closed")

// ChannelReporter sends results on a Go channel owned by an in-process
// supervisor. Send blocks only while the channel is full.
type ChannelReporter struct {
	ch chan<- Result
}

// NewChannelReporter creates a reporter that writes to ch.
func NewChannelReporter(ch chan<- Result) *ChannelReporter {
	return &ChannelReporter{ch: ch}
}

// Send enqueues r, or returns ctx.Err() if ctx ends first.
func (c *ChannelReporter) Send(ctx context.Context, r Result) error {
	select {
	case c.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LineReporter writes one JSON array per line. A worker process uses it on
// stdout, which its supervisor reads as a pipe.
type LineReporter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewLineReporter creates a reporter that writes to w.
func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

// Send writes r followed by a newline.
func (l *LineReporter) Send(_ context.Context, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Close stops further sends. The underlying writer is left open.
func (l *LineReporter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
