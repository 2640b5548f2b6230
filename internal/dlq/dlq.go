// Package dlq parks payloads a worker could not process, together with
// headers describing the failure. It is only used when a worker runs with
// failure isolation; otherwise a malformed payload stops the worker.
package dlq

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// Error codes carried in the error-code header.
const (
	CodeParseFailed  = "PARSE_FAILED"
	CodeReportFailed = "REPORT_FAILED"
)

// Header names set on every dead-lettered payload.
const (
	HeaderOriginalQueue = "pricer-original-queue"
	HeaderErrorCode     = "pricer-error-code"
	HeaderErrorMessage  = "pricer-error-message"
	HeaderFailedAt      = "pricer-failed-at"
	HeaderWorkerID      = "pricer-worker-id"
	HeaderFingerprint   = "pricer-fingerprint"
)

// Publisher is the interface for publishing messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// FailureInfo contains metadata about why an event failed processing.
type FailureInfo struct {
	OriginalQueue string
	ErrorCode     string
	ErrorMessage  string
	WorkerID      string
	Fingerprint   string
}

// Handler publishes failed payloads to a dead-letter destination.
type Handler struct {
	publisher Publisher
	topicFn   func(queue string) string
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithTopicFunc overrides the default dead-letter naming function.
func WithTopicFunc(fn func(queue string) string) Option {
	return func(h *Handler) {
		h.topicFn = fn
	}
}

// WithClock sets the time source for the failed-at header.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// DefaultTopic names the dead-letter destination of a queue: "<queue>_dead".
func DefaultTopic(queue string) string {
	return queue + "_dead"
}

// NewHandler creates a new dead-letter handler.
func NewHandler(pub Publisher, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topicFn:   DefaultTopic,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// maxErrorMessage bounds the error-message header. Parse errors can quote
// large parts of the payload, which is already the record value.
const maxErrorMessage = 512

// Send publishes the untouched payload to the dead-letter destination of
// info.OriginalQueue. The fingerprint, when known, is used as the key.
func (h *Handler) Send(ctx context.Context, payload []byte, info FailureInfo) error {
	topic := h.topicFn(info.OriginalQueue)
	if err := h.publisher.Publish(ctx, topic, info.key(), payload, h.headers(info)); err != nil {
		return fmt.Errorf("dlq publish to %s: %w", topic, err)
	}
	return nil
}

func (h *Handler) headers(info FailureInfo) map[string]string {
	hdr := map[string]string{
		HeaderOriginalQueue: info.OriginalQueue,
		HeaderErrorCode:     info.ErrorCode,
		HeaderErrorMessage:  truncate(info.ErrorMessage, maxErrorMessage),
		HeaderFailedAt:      h.now().UTC().Format(time.RFC3339),
		HeaderWorkerID:      info.WorkerID,
	}
	if info.Fingerprint != "" {
		hdr[HeaderFingerprint] = info.Fingerprint
	}
	return hdr
}

func (info FailureInfo) key() []byte {
	if info.Fingerprint == "" {
		return nil
	}
	return []byte(info.Fingerprint)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Close closes the publisher.
func (h *Handler) Close() error {
	return h.publisher.Close()
}
