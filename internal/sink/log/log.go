// Package log reports each result as a structured log line.
package log

import (
	"context"
	"log/slog"

	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/sink"
)

// Sink logs results at info level.
type Sink struct {
	logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates a log sink. A nil logger uses slog.Default().
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Name() string { return "log" }

func (s *Sink) Deliver(ctx context.Context, r report.Result) error {
	s.logger.InfoContext(ctx, "result",
		"ts", r.Timestamp,
		"index", string(r.Index),
		"fingerprint", r.Fingerprint,
	)
	return nil
}

func (s *Sink) Close() error { return nil }
