package report

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxLineBytes bounds one result line. Index is echoed from the payload and
// can be far larger than bufio's 64 KiB default.
const maxLineBytes = 16 << 20

// ReadLines decodes results written by a LineReporter and calls fn for each.
// It returns when r is exhausted, fn fails, or ctx is done. Blank lines are skipped.
func ReadLines(ctx context.Context, r io.Reader, fn func(Result) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var res Result
		if err := res.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return scanner.Err()
}
