package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names, one per stage of an event.
const (
	SpanQueuePop    = "pricer.queue.pop"
	SpanTransform   = "pricer.transform"
	SpanReport      = "pricer.report"
	SpanSinkDeliver = "pricer.sink.deliver"
)

// Attribute keys on pricer spans.
const (
	KeyWorkerID    = attribute.Key("pricer.worker.id")
	KeyQueue       = attribute.Key("pricer.queue.name")
	KeyFingerprint = attribute.Key("pricer.fingerprint")
	KeyWeekday     = attribute.Key("pricer.event.wday")
	KeyDiscount    = attribute.Key("pricer.event.discount")
	KeySink        = attribute.Key("pricer.sink.name")
	KeyErrorType   = attribute.Key("error.type")
)

func WorkerAttr(id string) attribute.KeyValue { return KeyWorkerID.String(id) }
func QueueAttr(name string) attribute.KeyValue { return KeyQueue.String(name) }
func FingerprintAttr(fp string) attribute.KeyValue { return KeyFingerprint.String(fp) }
func WeekdayAttr(wday int) attribute.KeyValue { return KeyWeekday.Int(wday) }
func DiscountAttr(percent int64) attribute.KeyValue { return KeyDiscount.Int64(percent) }
func SinkAttr(name string) attribute.KeyValue { return KeySink.String(name) }
func ErrorTypeAttr(errType string) attribute.KeyValue { return KeyErrorType.String(errType) }

// StartSpan starts name under tracer. With a nil tracer it returns ctx and
// whatever span ctx already holds, so callers need no nil checks.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records err as an exception event and marks span failed.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanOK(span trace.Span) {
	SetSpanOKWithMessage(span, "")
}

// SetSpanOKWithMessage marks span successful. The worker uses the message to
// tell an idle pop apart from one that returned an event.
func SetSpanOKWithMessage(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Ok, message)
	}
}

// Recording reports whether ctx holds a span that is being recorded.
func Recording(ctx context.Context) bool {
	span := trace.SpanFromContext(ctx)
	return span.IsRecording() && span.SpanContext().IsValid()
}
