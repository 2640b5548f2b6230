// Command pricer-worker runs one pricing worker. Results are written to
// stdout as JSON arrays, one per line; logs go to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/tracing"
	"github.com/lsm/pricer/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFlag   = flag.String("config", "", "Path to config file. Can also be set via PRICER_CONFIG env var.")
		idFlag       = flag.String("id", "", "Worker ID (default: random UUID)")
		logLevelFlag = flag.String("log-level", "", "Log level (debug, info, warn, error). Can also be set via PRICER_LOG_LEVEL env var.")
	)
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("PRICER_CONFIG")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// stdout carries the results; configured sinks belong to the supervisor.
	cfg.Sinks = nil

	levelName := *logLevelFlag
	if levelName == "" {
		levelName = cfg.Observability.LogLevel
	}
	logger := observability.NewLogger(os.Stderr, "pricer-worker", observability.GetLogLevel(levelName))
	slog.SetDefault(logger)

	tracerCfg := tracing.FromEnv("pricer-worker", os.LookupEnv).
		Overlay(cfg.Observability.Tracing, cfg.Observability.OTLPEndpoint)
	tracerCfg.InstanceID = *idFlag
	tracer, tracerShutdown, err := tracing.Setup(context.Background(), tracerCfg, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	comps, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error("close components", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	q, err := comps.Queues(ctx, 0)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	out := report.NewLineReporter(os.Stdout)
	defer func() { _ = out.Close() }()

	wcfg := app.WorkerConfig(cfg)
	wcfg.ID = *idFlag
	opts := []worker.Option{worker.WithLogger(logger), worker.WithTracer(tracer)}
	if comps.DeadLetter != nil {
		opts = append(opts, worker.WithDeadLetter(comps.DeadLetter))
	}
	w, err := worker.New(wcfg, q, comps.Transformer, out, opts...)
	if err != nil {
		return err
	}

	stats, err := w.Run(ctx)
	logger.Info("worker stopped",
		"worker", w.ID(),
		"reason", string(stats.Reason),
		"processed", stats.Processed,
		"dead_lettered", stats.DeadLettered,
	)
	return err
}
