package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lsm/pricer/internal/config"
)

// DefaultConfigPath is where commands look for a config when none is given.
const DefaultConfigPath = "pricer.yaml"

// RunValidate validates pricer config files. Environment overrides are not
// applied, so the result depends on the files alone.
func RunValidate(args []string, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Fprintln(w, "Usage: pricer validate [path...]\n\nValidates pricer config files (default: ./"+DefaultConfigPath+").")
		return nil
	}

	paths := args
	if len(paths) == 0 {
		paths = []string{DefaultConfigPath}
	}

	var problems []validationError
	for _, path := range paths {
		problems = append(problems, checkFile(path)...)
	}
	if len(problems) == 0 {
		fmt.Fprintf(w, "Validated %d config file(s). All configurations are valid.\n", len(paths))
		return nil
	}

	fmt.Fprintf(w, "Found %d validation error(s):\n\n", len(problems))
	for _, p := range problems {
		fmt.Fprintf(w, "  %s\n    field: %s\n    error: %s\n\n", p.File, p.Field, p.Message)
	}
	return fmt.Errorf("%d validation error(s) found", len(problems))
}

type validationError struct {
	File    string
	Field   string
	Message string
}

// checkFile decodes path over the defaults and validates it. Read and
// decode failures are reported as a single problem with no field.
func checkFile(path string) []validationError {
	whole := func(msg string) []validationError {
		return []validationError{{File: path, Field: "-", Message: msg}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return whole(fmt.Sprintf("read error: %v", err))
	}
	cfg := config.Default()
	if err := config.Decode(data, cfg); err != nil {
		msg := fmt.Sprintf("YAML parse error: %v", err)
		if strings.Contains(msg, "time.Duration") {
			msg += "\n\nHint: durations need a unit, e.g. popTimeout: 5s"
		}
		return whole(msg)
	}

	var errs []validationError
	for _, msg := range flattenErrors(cfg.Validate()) {
		errs = append(errs, validationError{File: path, Field: inferField(msg), Message: msg})
	}
	return errs
}

// flattenErrors lists the separate problems in err. Joined errors are
// walked; a prefixed join such as "sinks[1]: a\nb" keeps the prefix on
// every line.
func flattenErrors(err error) []string {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}

	var lines []string
	for _, l := range strings.Split(err.Error(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > 1 {
		if prefix, _, ok := strings.Cut(lines[0], ": "); ok {
			for i := 1; i < len(lines); i++ {
				lines[i] = prefix + ": " + lines[i]
			}
		}
	}
	return lines
}

// inferField takes the dotted config path that starts a validation message.
func inferField(msg string) string {
	field, _, _ := strings.Cut(msg, " ")
	field = strings.TrimSuffix(field, ":")
	if field == "" {
		return "-"
	}
	return field
}
