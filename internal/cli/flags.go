package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// flagValue looks name up in args, accepting "name value" and "name=value".
// The first occurrence wins.
func flagValue(args []string, name string) (value string, found bool, err error) {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, true, nil
		}
		if arg != name {
			continue
		}
		if i+1 >= len(args) {
			return "", true, fmt.Errorf("%s needs a value", name)
		}
		return args[i+1], true, nil
	}
	return "", false, nil
}

// parseStringFlag returns the value of name, or "" when it is absent.
func parseStringFlag(args []string, name string) (string, error) {
	v, _, err := flagValue(args, name)
	return v, err
}

// parseIntFlag returns the value of name as a count of at least 1, or def
// when the flag is absent.
func parseIntFlag(args []string, name string, def int) (int, error) {
	v, found, err := flagValue(args, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", name, v)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s: must be at least 1, got %d", name, n)
	}
	return n, nil
}

// parseFloatFlag is parseIntFlag for positive rates.
func parseFloatFlag(args []string, name string, def float64) (float64, error) {
	v, found, err := flagValue(args, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%s: %q is not a positive number", name, v)
	}
	return f, nil
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}
