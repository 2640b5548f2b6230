package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/observability"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/sink"
)

// RunCollect reads worker results from in and delivers them to the sinks of
// a pricer config, so that `pricer-worker | pricer collect` behaves like a
// one-unit supervisor. Output goes to w (stdout when nil).
func RunCollect(args []string, in io.Reader, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if in == nil {
		in = os.Stdin
	}
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Fprintln(w, `Usage: pricer collect [--config <path>] [--input <file>] [--csv <path>]

Reads results written by pricer-worker, one JSON array per line, and
delivers each to the sinks configured in the config file.

Options:
  --config <path>  Pricer config file (default: defaults and environment)
  --input <file>   Read results from a file instead of stdin
  --csv <path>     Write results to this CSV file instead of the configured sinks

Examples:
  pricer-worker | pricer collect --csv output/go.csv`)
		return nil
	}

	configPath, err := parseStringFlag(args, "--config")
	if err != nil {
		return err
	}
	inputPath, err := parseStringFlag(args, "--input")
	if err != nil {
		return err
	}
	csvPath, err := parseStringFlag(args, "--csv")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sinkConfigs := cfg.Sinks
	if csvPath != "" {
		sinkConfigs = []config.SinkConfig{{Type: config.SinkCSV, CSV: &config.CSVSinkConfig{Path: csvPath}}}
	}

	if inputPath != "" {
		f, err := os.Open(filepath.Clean(inputPath))
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	logger := observability.NewLogger(nil, "pricer-collect", observability.GetLogLevel(cfg.Observability.LogLevel))
	sinks, err := app.NewSinks(sinkConfigs, logger)
	if err != nil {
		return err
	}
	fanout := sink.NewFanout(sinks, nil, nil)

	ctx, stop := notifyContext(context.Background())
	defer stop()

	delivered, failed := 0, 0
	readErr := report.ReadLines(ctx, in, func(r report.Result) error {
		if err := fanout.Deliver(ctx, r); err != nil {
			failed++
			logger.Error("delivery failed", "fingerprint", r.Fingerprint, "error", err)
			return nil
		}
		delivered++
		return nil
	})
	closeErr := fanout.Close()

	fmt.Fprintf(w, "Collected %d result(s) into %d sink(s)", delivered, fanout.Len())
	if failed > 0 {
		fmt.Fprintf(w, ", %d failed", failed)
	}
	fmt.Fprintln(w)

	if readErr != nil {
		return fmt.Errorf("read results: %w", readErr)
	}
	if closeErr != nil {
		return closeErr
	}
	if failed > 0 {
		return fmt.Errorf("%d result(s) failed delivery", failed)
	}
	return nil
}
