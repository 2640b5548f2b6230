// Package sink defines where a supervisor sends the results its workers report.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/tracing"
)

// Sink delivers results to a destination.
type Sink interface {
	// Name labels the sink in logs and metrics.
	Name() string

	// Deliver writes one result. Returns nil on success.
	Deliver(ctx context.Context, r report.Result) error

	// Close flushes and releases the destination.
	Close() error
}

// Fanout delivers every result to each of its sinks in order.
type Fanout struct {
	sinks   []Sink
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewFanout creates a Fanout. metrics and tracer may be nil.
func NewFanout(sinks []Sink, metrics *observability.Metrics, tracer trace.Tracer) *Fanout {
	return &Fanout{sinks: sinks, metrics: metrics, tracer: tracer}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Deliver sends r to every sink. A failing sink does not stop delivery to
// the others; all failures are returned joined.
func (f *Fanout) Deliver(ctx context.Context, r report.Result) error {
	var errs []error
	for _, s := range f.sinks {
		if err := f.deliver(ctx, s, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) deliver(ctx context.Context, s Sink, r report.Result) error {
	ctx, span := tracing.StartSpan(ctx, f.tracer, tracing.SpanSinkDeliver,
		trace.WithAttributes(tracing.SinkAttr(s.Name()), tracing.FingerprintAttr(r.Fingerprint)),
	)
	defer span.End()

	if err := s.Deliver(ctx, r); err != nil {
		tracing.SetSpanError(span, err)
		if f.metrics != nil {
			f.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
		}
		return err
	}
	tracing.SetSpanOK(span)
	if f.metrics != nil {
		f.metrics.ResultsDelivered.WithLabelValues(s.Name()).Inc()
	}
	return nil
}

// Close closes every sink and returns all errors joined.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
