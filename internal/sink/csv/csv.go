// Package csv writes results as CSV rows: timestamp, index, fingerprint.
package csv

import (
	"context"
	encodingcsv "encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lsm/pricer/internal/report"
	"github.com/lsm/pricer/internal/sink"
)

// Config holds CSV sink configuration.
type Config struct {
	// Path is the output file. When empty, a file named
	// "<Prefix>-<unix millis>.csv" is created in Dir.
	Path   string
	Dir    string
	Prefix string // default: "pricer"
}

// Sink appends one row per result. Rows are flushed on every Deliver.
type Sink struct {
	mu     sync.Mutex
	file   io.Closer
	w      *encodingcsv.Writer
	path   string
	closed bool
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates the output file and returns a sink writing to it.
func NewSink(cfg Config) (*Sink, error) {
	path := cfg.Path
	if path == "" {
		prefix := cfg.Prefix
		if prefix == "" {
			prefix = "pricer"
		}
		path = filepath.Join(cfg.Dir, fmt.Sprintf("%s-%d.csv", prefix, time.Now().UnixMilli()))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv output: %w", err)
	}
	s := NewWriterSink(f)
	s.file = f
	s.path = path
	return s, nil
}

// NewWriterSink writes rows to w. Close flushes but does not close w.
func NewWriterSink(w io.Writer) *Sink {
	return &Sink{w: encodingcsv.NewWriter(w)}
}

// Path returns the output file path, or "" for a writer sink.
func (s *Sink) Path() string { return s.path }

func (s *Sink) Name() string { return "csv" }

// Deliver writes r as a row.
func (s *Sink) Deliver(_ context.Context, r report.Result) error {
	row := []string{strconv.FormatInt(r.Timestamp, 10), indexField(r.Index), r.Fingerprint}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("csv sink closed")
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes pending rows and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	err := s.w.Error()
	if s.file != nil {
		err = errors.Join(err, s.file.Close())
	}
	return err
}

// indexField renders a JSON string index without quotes and any other
// index as its raw JSON text.
func indexField(index json.RawMessage) string {
	var s string
	if err := json.Unmarshal(index, &s); err == nil {
		return s
	}
	return string(index)
}
