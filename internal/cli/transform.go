package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/transform/discount"
)

// transformOutput is what RunTransform prints for one payload.
type transformOutput struct {
	Wday        int             `json:"wday"`
	Discount    int64           `json:"discount"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	Fingerprint string          `json:"fingerprint"`
	Result      report.Result   `json:"result"`
}

// RunTransform prices one payload without a queue and prints the outcome.
func RunTransform(args []string, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Fprintln(w, `Usage: pricer transform --input <json|file> [--config <path>] [--algorithm md5|sha256] [--round <places>]

Prices a single event the way a worker would and prints the discount,
total, fingerprint and the result a worker would report.

Options:
  --input <data>      Event JSON as a string or path to a file (first line of JSONL)
  --config <path>     Read transform settings from a pricer config file
  --algorithm <name>  Fingerprint digest, overrides the config (default: md5)
  --round <places>    Round totals half-up to this many decimal places

Examples:
  pricer transform --input '{"price":100,"wday":2,"index":"e1"}'
  pricer transform --input events.jsonl --algorithm sha256`)
		return nil
	}

	var inputData, configPath, algorithm, round string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--input" && i+1 < len(args):
			inputData = args[i+1]
			i++
		case args[i] == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case args[i] == "--algorithm" && i+1 < len(args):
			algorithm = args[i+1]
			i++
		case args[i] == "--round" && i+1 < len(args):
			round = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--input="):
			inputData = strings.TrimPrefix(args[i], "--input=")
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case strings.HasPrefix(args[i], "--algorithm="):
			algorithm = strings.TrimPrefix(args[i], "--algorithm=")
		case strings.HasPrefix(args[i], "--round="):
			round = strings.TrimPrefix(args[i], "--round=")
		}
	}

	if inputData == "" {
		return fmt.Errorf("--input is required")
	}

	tcfg := config.Default().Transform
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		tcfg = cfg.Transform
	}
	if algorithm != "" {
		tcfg.Fingerprint = algorithm
	}
	if round != "" {
		n, err := strconv.ParseInt(round, 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("--round: %q is not a non-negative integer", round)
		}
		places := int32(n)
		tcfg.RoundPlaces = &places
	}

	tr, err := app.NewTransformer(tcfg)
	if err != nil {
		return fmt.Errorf("create transformer: %w", err)
	}

	raw, err := loadInput(inputData)
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}

	evt, fingerprint, err := tr.Process(raw)
	if err != nil {
		return err
	}

	out := transformOutput{
		Wday:        evt.Wday,
		Discount:    discount.Discount(evt.Wday),
		Price:       evt.Price,
		Total:       evt.Total,
		Fingerprint: fingerprint,
		Result: report.Result{
			Timestamp:   time.Now().UnixMilli(),
			Index:       evt.Index,
			Fingerprint: fingerprint,
		},
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Fprintln(w, string(pretty))
	return nil
}

// loadInput returns input itself, or the first line of the file it names.
// The payload is returned exactly as stored since the fingerprint covers it.
func loadInput(input string) (string, error) {
	if _, err := os.Stat(input); err == nil {
		data, err := os.ReadFile(filepath.Clean(input))
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		line := string(data)
		if idx := strings.IndexByte(line, '\n'); idx != -1 {
			line = line[:idx]
		}
		return strings.TrimSuffix(line, "\r"), nil
	}
	return input, nil
}
