// Package worker implements the consumption loop: pop a raw event, price it,
// report the result, repeat until the queue goes quiet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/pricer/internal/dlq"
	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/queue"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/tracing"
	"github.com/lsm/pricer/internal/transform"
	"github.com/lsm/pricer/internal/transform/discount"
)

// State is the lifecycle state of a worker.
type State int32

const (
	// Running is the initial state; the worker keeps popping events.
	Running State = iota
	// Stopped is terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reason explains why a worker stopped.
type Reason string

const (
	ReasonIdle         Reason = "idle"          // no event arrived within the pop timeout
	ReasonEmptyPayload Reason = "empty-payload" // an empty payload was popped
	ReasonCancelled    Reason = "cancelled"     // the context was cancelled
	ReasonFailed       Reason = "failed"        // an unrecovered error
)

// ErrAlreadyRun is returned when Run is called on a worker that has stopped.
var ErrAlreadyRun = errors.New("worker already stopped")

// Config holds worker configuration.
type Config struct {
	ID         string        // defaults to a random UUID
	Queue      string        // defaults to queue.DefaultName
	PopTimeout time.Duration // defaults to queue.DefaultPopTimeout

	// IsolateFailures dead-letters an event that fails to parse or report
	// and keeps the loop running. Without it such an event stops the worker
	// with an error.
	IsolateFailures bool
}

// Stats summarises a finished run.
type Stats struct {
	Processed    int
	DeadLettered int
	Reason       Reason
}

// Worker is one competing consumer. A Worker runs once.
type Worker struct {
	cfg         Config
	queue       queue.Client
	transformer transform.Transformer
	reporter    report.Reporter
	dlq         *dlq.Handler
	metrics     *observability.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
	state       atomic.Int32
	started     atomic.Bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer sets the tracer used for per-event spans.
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// WithDeadLetter sets the handler that receives isolated failures.
func WithDeadLetter(h *dlq.Handler) Option {
	return func(w *Worker) { w.dlq = h }
}

// WithClock sets the time source for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a worker that pops from q, prices with tr and reports to rep.
func New(cfg Config, q queue.Client, tr transform.Transformer, rep report.Reporter, opts ...Option) (*Worker, error) {
	if q == nil {
		return nil, errors.New("queue client is required")
	}
	if tr == nil {
		return nil, errors.New("transformer is required")
	}
	if rep == nil {
		return nil, errors.New("reporter is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultName
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = queue.DefaultPopTimeout
	}

	w := &Worker{
		cfg:         cfg,
		queue:       q,
		transformer: tr,
		reporter:    rep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = observability.WithTraceContext(w.logger).With("worker", cfg.ID, "queue", cfg.Queue)

	if cfg.IsolateFailures && w.dlq == nil {
		return nil, errors.New("failure isolation requires a dead-letter handler")
	}
	return w, nil
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.cfg.ID }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Run consumes events until the queue is idle for PopTimeout, an empty
// payload arrives, ctx is cancelled, or an unrecovered error occurs.
// The first three are normal stops and return a nil error.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	if !w.started.CompareAndSwap(false, true) {
		return Stats{}, ErrAlreadyRun
	}
	defer w.state.Store(int32(Stopped))

	if w.metrics != nil {
		w.metrics.WorkersRunning.Inc()
		defer w.metrics.WorkersRunning.Dec()
	}

	w.logger.InfoContext(ctx, "worker started", "pop_timeout", w.cfg.PopTimeout)
	stats, err := w.loop(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "worker failed", "processed", stats.Processed, "error", err)
		return stats, err
	}
	w.logger.InfoContext(ctx, "worker stopped", "reason", stats.Reason, "processed", stats.Processed, "dead_lettered", stats.DeadLettered)
	return stats, nil
}

func (w *Worker) loop(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		item, err := w.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				stats.Reason = ReasonCancelled
				return stats, nil
			}
			stats.Reason = ReasonFailed
			return stats, fmt.Errorf("pop %s: %w", w.cfg.Queue, err)
		}
		if item == nil {
			stats.Reason = ReasonIdle
			return stats, nil
		}
		if item.Payload == "" {
			stats.Reason = ReasonEmptyPayload
			return stats, nil
		}

		if err := w.process(ctx, item.Payload, &stats); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				stats.Reason = ReasonCancelled
				return stats, nil
			}
			stats.Reason = ReasonFailed
			return stats, err
		}
	}
}

func (w *Worker) pop(ctx context.Context) (*queue.Item, error) {
	ctx, span := tracing.StartSpan(ctx, w.tracer, tracing.SpanQueuePop,
		trace.WithAttributes(tracing.WorkerAttr(w.cfg.ID), tracing.QueueAttr(w.cfg.Queue)),
	)
	defer span.End()

	start := w.now()
	item, err := w.queue.Pop(ctx, w.cfg.Queue, w.cfg.PopTimeout)
	w.observe("pop", start)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, err
	}
	if item == nil {
		tracing.SetSpanOKWithMessage(span, "timeout")
		return nil, nil
	}
	tracing.SetSpanOK(span)
	return item, nil
}

func (w *Worker) process(ctx context.Context, raw string, stats *Stats) error {
	event, fingerprint, err := w.transform(ctx, raw)
	if err != nil {
		w.count(observability.StatusParseError)
		if !w.cfg.IsolateFailures {
			return fmt.Errorf("worker %s: %w", w.cfg.ID, err)
		}
		return w.deadLetter(ctx, raw, "", dlq.CodeParseFailed, err, stats)
	}

	result := report.Result{
		Timestamp:   w.now().UnixMilli(),
		Index:       event.Index,
		Fingerprint: fingerprint,
	}
	if err := w.report(ctx, result); err != nil {
		w.count(observability.StatusReportError)
		if !w.cfg.IsolateFailures || ctx.Err() != nil {
			return fmt.Errorf("report result: %w", err)
		}
		return w.deadLetter(ctx, raw, fingerprint, dlq.CodeReportFailed, err, stats)
	}

	stats.Processed++
	w.count(observability.StatusProcessed)
	w.logger.DebugContext(ctx, "event processed",
		"fingerprint", fingerprint,
		"wday", event.Wday,
		"total", event.Total.String(),
	)
	return nil
}

func (w *Worker) transform(ctx context.Context, raw string) (*transform.Event, string, error) {
	_, span := tracing.StartSpan(ctx, w.tracer, tracing.SpanTransform,
		trace.WithAttributes(tracing.WorkerAttr(w.cfg.ID)),
	)
	defer span.End()

	start := w.now()
	event, fingerprint, err := w.transformer.Process(raw)
	w.observe("transform", start)
	if err != nil {
		span.SetAttributes(tracing.ErrorTypeAttr("parse"))
		tracing.SetSpanError(span, err)
		return nil, "", err
	}
	span.SetAttributes(
		tracing.FingerprintAttr(fingerprint),
		tracing.WeekdayAttr(event.Wday),
		tracing.DiscountAttr(discount.Discount(event.Wday)),
	)
	tracing.SetSpanOK(span)
	return event, fingerprint, nil
}

func (w *Worker) report(ctx context.Context, result report.Result) error {
	ctx, span := tracing.StartSpan(ctx, w.tracer, tracing.SpanReport,
		trace.WithAttributes(tracing.WorkerAttr(w.cfg.ID), tracing.FingerprintAttr(result.Fingerprint)),
	)
	defer span.End()

	start := w.now()
	err := w.reporter.Send(ctx, result)
	w.observe("report", start)
	if err != nil {
		tracing.SetSpanError(span, err)
		return err
	}
	tracing.SetSpanOK(span)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, raw, fingerprint, code string, cause error, stats *Stats) error {
	w.logger.WarnContext(ctx, "isolating failed event", "code", code, "error", cause)
	err := w.dlq.Send(ctx, []byte(raw), dlq.FailureInfo{
		OriginalQueue: w.cfg.Queue,
		ErrorCode:     code,
		ErrorMessage:  cause.Error(),
		WorkerID:      w.cfg.ID,
		Fingerprint:   fingerprint,
	})
	if err != nil {
		return fmt.Errorf("dead-letter after %v: %w", cause, err)
	}
	stats.DeadLettered++
	w.count(observability.StatusDeadLettered)
	if w.metrics != nil {
		w.metrics.DeadLetterTotal.WithLabelValues(w.cfg.ID).Inc()
	}
	return nil
}

func (w *Worker) count(status string) {
	if w.metrics != nil {
		w.metrics.EventsTotal.WithLabelValues(w.cfg.ID, status).Inc()
	}
}

func (w *Worker) observe(phase string, start time.Time) {
	if w.metrics != nil {
		w.metrics.EventDuration.WithLabelValues(phase).Observe(w.now().Sub(start).Seconds())
	}
}
