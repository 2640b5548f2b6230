package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/sink"
	"github.com/lsm/pricer/internal/supervisor"
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
		workersFlag  = flag.Int("workers", 0, "Override the number of workers")
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
	if *workersFlag > 0 {
		cfg.Worker.Count = *workersFlag
	}

	levelName := *logLevelFlag
	if levelName == "" {
		levelName = cfg.Observability.LogLevel
	}
	logger := observability.NewLogger(os.Stderr, "pricer-supervisor", observability.GetLogLevel(levelName))
	slog.SetDefault(logger)

	tracerCfg := tracing.FromEnv("pricer-supervisor", os.LookupEnv).
		Overlay(cfg.Observability.Tracing, cfg.Observability.OTLPEndpoint)
	tracer, tracerShutdown, err := tracing.Setup(context.Background(), tracerCfg, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	// Setup metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	health := observability.NewHealthServer()
	var httpServer *http.Server
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		httpServer = &http.Server{Addr: addr, Handler: health.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics server starting", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	comps, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error("close components", "error", err)
		}
	}()

	if p, ok := comps.Pusher.(interface{ Ping(context.Context) error }); ok {
		health.AddCheck("queue", p.Ping)
	}

	workerOpts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithMetrics(metrics),
		worker.WithTracer(tracer),
	}
	if comps.DeadLetter != nil {
		workerOpts = append(workerOpts, worker.WithDeadLetter(comps.DeadLetter))
	}

	sup, err := supervisor.New(supervisor.Config{
		Workers:      cfg.Worker.Count,
		ResultBuffer: cfg.Worker.ResultBuffer,
		Worker:       app.WorkerConfig(cfg),
	}, comps.Queues, comps.Transformer, sink.NewFanout(comps.Sinks, metrics, tracer),
		supervisor.WithLogger(logger),
		supervisor.WithWorkerOptions(workerOpts...),
		supervisor.WithHealth(health),
	)
	if err != nil {
		return err
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, runErr := sup.Run(ctx)
	logger.Info("run summary",
		"units", len(summary.Units),
		"processed", summary.Processed(),
		"delivered", summary.Delivered,
		"failed_units", summary.Failed(),
	)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
