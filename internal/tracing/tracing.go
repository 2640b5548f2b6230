// Package tracing wires OpenTelemetry into the pricer binaries and names the
// spans a worker and its sinks emit.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Environment variables read by FromEnv.
const (
	EnabledEnv     = "PRICER_OTEL_ENABLED"
	EndpointEnv    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	SampleRatioEnv = "PRICER_OTEL_SAMPLE_RATIO"
)

const defaultEndpoint = "localhost:4317"

// Config selects the exporter and sampling for one binary.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	InstanceID  string  // recorded as service.instance.id when set
	SampleRatio float64 // fraction of root spans kept; <= 0 or >= 1 keeps all
}

// FromEnv builds the Config for service from lookup. Tracing is on only when
// PRICER_OTEL_ENABLED is "true" in any case.
func FromEnv(service string, lookup func(string) (string, bool)) Config {
	cfg := Config{ServiceName: service, Endpoint: defaultEndpoint}
	if v, ok := lookup(EnabledEnv); ok {
		cfg.Enabled = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup(EndpointEnv); ok && v != "" {
		cfg.Endpoint = v
	}
	if v, ok := lookup(SampleRatioEnv); ok {
		if r, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// Overlay applies the file configuration. It can switch tracing on and move
// the endpoint, never switch it off.
func (c Config) Overlay(enabled bool, endpoint string) Config {
	if !enabled {
		return c
	}
	c.Enabled = true
	if endpoint != "" {
		c.Endpoint = endpoint
	}
	return c
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// Shutdown flushes pending spans and stops the exporter.
type Shutdown func(context.Context) error

var propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Setup installs the global tracer provider for cfg. When cfg is disabled
// the tracer is a no-op and nothing global changes.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (trace.Tracer, Shutdown, error) {
	if !cfg.Enabled {
		logger.Debug("tracing off", "service", cfg.ServiceName)
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter %s: %w", cfg.Endpoint, err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)

	logger.Info("tracing on",
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"sampler", cfg.sampler().Description(),
	)
	return provider.Tracer(cfg.ServiceName), provider.Shutdown, nil
}

// Propagator returns the propagator sinks use to write trace context into
// outgoing record headers. It is the same whether or not Setup enabled
// tracing.
func Propagator() propagation.TextMapPropagator {
	return propagator
}
