package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lsm/pricer/internal/transform/discount"
)

type transformView struct {
	Wday        int               `json:"wday"`
	Discount    int64             `json:"discount"`
	Total       string            `json:"total"`
	Fingerprint string            `json:"fingerprint"`
	Result      []json.RawMessage `json:"result"`
}

func runTransform(t *testing.T, args ...string) transformView {
	t.Helper()
	var buf bytes.Buffer
	if err := RunTransform(args, &buf); err != nil {
		t.Fatalf("RunTransform(%v): %v", args, err)
	}
	var out transformView
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v\nOutput: %s", err, buf.String())
	}
	return out
}

func TestRunTransform_Help(t *testing.T) {
	var buf bytes.Buffer
	if err := RunTransform([]string{"-h"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Usage: pricer transform") {
		t.Errorf("unexpected help: %s", buf.String())
	}
}

func TestRunTransform_InlineJSON(t *testing.T) {
	raw := `{"price":100,"wday":2,"index":"e1"}`
	out := runTransform(t, "--input", raw)

	if out.Wday != 2 || out.Discount != 10 || out.Total != "90" {
		t.Errorf("got wday=%d discount=%d total=%s, want 2, 10, 90", out.Wday, out.Discount, out.Total)
	}
	if want := discount.Fingerprint(discount.MD5, raw); out.Fingerprint != want {
		t.Errorf("fingerprint = %s, want %s", out.Fingerprint, want)
	}
	if len(out.Result) != 3 {
		t.Fatalf("result has %d elements, want 3", len(out.Result))
	}
	if string(out.Result[1]) != `"e1"` {
		t.Errorf("result index = %s, want \"e1\"", out.Result[1])
	}
}

func TestRunTransform_UnknownWeekday(t *testing.T) {
	out := runTransform(t, "--input", `{"price":50,"wday":9,"index":"e2"}`)
	if out.Discount != 0 || out.Total != "50" {
		t.Errorf("got discount=%d total=%s, want 0 and 50", out.Discount, out.Total)
	}
}

func TestRunTransform_AlgorithmAndRounding(t *testing.T) {
	raw := `{"price":19.99,"wday":3,"index":7}`
	out := runTransform(t, "--input="+raw, "--algorithm=sha256", "--round", "2")

	if out.Total != "16.99" {
		t.Errorf("total = %s, want 16.99", out.Total)
	}
	if want := discount.Fingerprint(discount.SHA256, raw); out.Fingerprint != want {
		t.Errorf("fingerprint = %s, want sha256 digest %s", out.Fingerprint, want)
	}
}

func TestRunTransform_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestFile(t, dir, "pricer.yaml", "transform:\n  fingerprint: sha256\n")
	raw := `{"price":10,"wday":0,"index":1}`

	out := runTransform(t, "--config", cfgPath, "--input", raw)
	if want := discount.Fingerprint(discount.SHA256, raw); out.Fingerprint != want {
		t.Errorf("fingerprint = %s, want the configured sha256 digest", out.Fingerprint)
	}
}

func TestRunTransform_JSONLFile(t *testing.T) {
	dir := t.TempDir()
	first := `{"price":100,"wday":6,"index":"first"}`
	path := writeTestFile(t, dir, "events.jsonl", first+"\r\n"+`{"price":1,"wday":0,"index":"second"}`+"\n")

	out := runTransform(t, "--input", path)
	if out.Total != "70" {
		t.Errorf("total = %s, want 70", out.Total)
	}
	if want := discount.Fingerprint(discount.MD5, first); out.Fingerprint != want {
		t.Errorf("fingerprint should cover the first line without its line ending")
	}
}

func TestRunTransform_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing input", nil, "--input is required"},
		{"invalid json", []string{"--input", "{not json"}, "parse event"},
		{"unknown algorithm", []string{"--input", "{}", "--algorithm", "crc32"}, "unsupported fingerprint algorithm"},
		{"bad rounding", []string{"--input", "{}", "--round", "two"}, "--round"},
		{"missing config", []string{"--input", "{}", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunTransform(tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadInput(t *testing.T) {
	if got, err := loadInput(`{"price":1}`); err != nil || got != `{"price":1}` {
		t.Errorf("inline input = %q, %v", got, err)
	}

	path := writeTestFile(t, t.TempDir(), "event.json", `{"price":2}`)
	if got, err := loadInput(path); err != nil || got != `{"price":2}` {
		t.Errorf("file input = %q, %v", got, err)
	}
}
