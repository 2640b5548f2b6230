// Package supervisor runs several workers against one queue and forwards
// everything they report to the configured sinks.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/queue"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/sink"
	"github.com/lsm/pricer/internal/transform"
	"github.com/lsm/pricer/internal/worker"
)

// QueueFactory opens the queue client for one unit. Each unit owns and
// closes the client it is given.
type QueueFactory func(ctx context.Context, unit int) (queue.Client, error)

// Config holds supervisor configuration.
type Config struct {
	Workers      int           // number of units, at least 1
	ResultBuffer int           // capacity of the shared result channel
	Worker       worker.Config // template; ID is set per unit
	IDPrefix     string        // unit IDs are "<IDPrefix>-<n>" (default: "worker")
}

// UnitResult is the outcome of one unit.
type UnitResult struct {
	ID    string
	Stats worker.Stats
	Err   error
}

// Summary describes a finished run.
type Summary struct {
	Units      []UnitResult
	Delivered  int
	SinkErrors int
}

// Processed returns the number of events processed across all units.
func (s Summary) Processed() int {
	n := 0
	for _, u := range s.Units {
		n += u.Stats.Processed
	}
	return n
}

// Failed returns the number of units that stopped with an error.
func (s Summary) Failed() int {
	n := 0
	for _, u := range s.Units {
		if u.Err != nil {
			n++
		}
	}
	return n
}

// Supervisor owns the result channel shared by its units.
type Supervisor struct {
	cfg         Config
	newQueue    QueueFactory
	transformer transform.Transformer
	sinks       *sink.Fanout
	workerOpts  []worker.Option
	health      *observability.HealthServer
	logger      *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithWorkerOptions passes options to every unit.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(s *Supervisor) { s.workerOpts = append(s.workerOpts, opts...) }
}

// WithHealth marks h ready while units are running.
func WithHealth(h *observability.HealthServer) Option {
	return func(s *Supervisor) { s.health = h }
}

// New creates a supervisor.
func New(cfg Config, newQueue QueueFactory, tr transform.Transformer, sinks *sink.Fanout, opts ...Option) (*Supervisor, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.ResultBuffer < 0 {
		return nil, fmt.Errorf("result buffer must be >= 0, got %d", cfg.ResultBuffer)
	}
	if newQueue == nil {
		return nil, errors.New("queue factory is required")
	}
	if tr == nil {
		return nil, errors.New("transformer is required")
	}
	if sinks == nil {
		sinks = sink.NewFanout(nil, nil, nil)
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "worker"
	}

	s := &Supervisor{
		cfg:         cfg,
		newQueue:    newQueue,
		transformer: tr,
		sinks:       sinks,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts every unit and blocks until all have stopped and every reported
// result has been handed to the sinks. A failed unit does not stop its
// siblings and is not restarted. The returned error joins unit failures and
// sink delivery failures.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	results := make(chan report.Result, s.cfg.ResultBuffer)

	var summary Summary
	var drainErr error
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		summary.Delivered, summary.SinkErrors, drainErr = s.drain(context.WithoutCancel(ctx), results)
	}()

	units := make([]UnitResult, s.cfg.Workers)
	var g errgroup.Group
	for i := range units {
		id := fmt.Sprintf("%s-%d", s.cfg.IDPrefix, i+1)
		g.Go(func() error {
			stats, err := s.runUnit(ctx, i, id, results)
			units[i] = UnitResult{ID: id, Stats: stats, Err: err}
			if err != nil {
				s.logger.Error("unit failed", "worker", id, "processed", stats.Processed, "error", err)
			}
			return nil
		})
	}
	if s.health != nil {
		s.health.SetReady(true)
	}
	s.logger.Info("supervisor started", "workers", s.cfg.Workers, "queue", s.cfg.Worker.Queue, "sinks", s.sinks.Len())

	_ = g.Wait()
	close(results)
	<-drained
	if s.health != nil {
		s.health.SetReady(false)
	}

	summary.Units = units
	var errs []error
	for _, u := range units {
		if u.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.ID, u.Err))
		}
	}
	if drainErr != nil {
		errs = append(errs, drainErr)
	}

	s.logger.Info("supervisor finished",
		"processed", summary.Processed(),
		"delivered", summary.Delivered,
		"sink_errors", summary.SinkErrors,
		"failed_units", summary.Failed(),
	)
	return summary, errors.Join(errs...)
}

func (s *Supervisor) runUnit(ctx context.Context, n int, id string, results chan<- report.Result) (worker.Stats, error) {
	q, err := s.newQueue(ctx, n)
	if err != nil {
		return worker.Stats{Reason: worker.ReasonFailed}, fmt.Errorf("open queue: %w", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			s.logger.Warn("queue close failed", "worker", id, "error", err)
		}
	}()

	cfg := s.cfg.Worker
	cfg.ID = id
	w, err := worker.New(cfg, q, s.transformer, report.NewChannelReporter(results), s.workerOpts...)
	if err != nil {
		return worker.Stats{Reason: worker.ReasonFailed}, err
	}
	return w.Run(ctx)
}

// drain forwards results until the channel is closed. Sink failures are
// counted; the first one is returned after the channel is empty.
func (s *Supervisor) drain(ctx context.Context, results <-chan report.Result) (delivered, failed int, err error) {
	for r := range results {
		if derr := s.sinks.Deliver(ctx, r); derr != nil {
			failed++
			s.logger.Error("result delivery failed", "fingerprint", r.Fingerprint, "error", derr)
			continue
		}
		delivered++
	}
	if failed > 0 {
		err = fmt.Errorf("%d results failed delivery", failed)
	}
	return delivered, failed, err
}
