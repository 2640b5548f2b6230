// Package observability holds the logging, metrics, and health plumbing shared
// by the pricer binaries.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LogLevelEnv is read when no level flag is given.
const LogLevelEnv = "PRICER_LOG_LEVEL"

// NewLogger returns a JSON logger tagged with component. Records logged with
// a context that carries a span get trace_id and span_id. A nil w means
// stderr; stdout belongs to worker results.
func NewLogger(w io.Writer, component string, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(traceHandler{h}).With("component", component)
}

// WithTraceContext returns l with span correlation added, unless it already
// has it.
func WithTraceContext(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(traceHandler); ok {
		return l
	}
	return slog.New(traceHandler{l.Handler()})
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r = r.Clone()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// ParseLogLevel maps a level name to a slog.Level. Besides the names slog
// understands ("debug", "INFO+2", ...) it accepts "warning". Anything else is
// info.
func ParseLogLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// GetLogLevel prefers flagLevel over PRICER_LOG_LEVEL.
func GetLogLevel(flagLevel string) slog.Level {
	if flagLevel == "" {
		flagLevel = os.Getenv(LogLevelEnv)
	}
	return ParseLogLevel(flagLevel)
}
