package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/queue/memory"
	"github.com/lsm/pricer/internal/transform/discount"
)

// keepOpen leaves the queue readable after RunProduce closes its pusher.
type keepOpen struct{ *memory.Queue }

func (keepOpen) Close() error { return nil }

// stubPusher routes RunProduce to an in-memory queue and records the config
// it was opened with.
func stubPusher(t *testing.T) (*memory.Queue, *config.QueueConfig) {
	t.Helper()
	q := memory.New()
	var got config.QueueConfig
	old := newPusherFunc
	newPusherFunc = func(cfg config.QueueConfig) (app.Pusher, error) {
		got = cfg
		return keepOpen{q}, nil
	}
	t.Cleanup(func() { newPusherFunc = old })
	return q, &got
}

func drain(t *testing.T, q *memory.Queue, name string) []string {
	t.Helper()
	var out []string
	for q.Len(name) > 0 {
		item, err := q.Pop(t.Context(), name, 0)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		out = append(out, item.Payload)
	}
	return out
}

func TestRunProduce_Help(t *testing.T) {
	var buf bytes.Buffer
	if err := RunProduce([]string{"-h"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Usage: pricer produce") {
		t.Errorf("help output missing usage line: %s", buf.String())
	}
	if err := RunProduce([]string{"--help"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunProduce_MissingData(t *testing.T) {
	stubPusher(t)
	err := RunProduce([]string{"--queue", "events_queue"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing data source")
	}
	if !strings.Contains(err.Error(), "--file") || !strings.Contains(err.Error(), "--json") {
		t.Errorf("expected error to mention --file or --json, got: %v", err)
	}
}

func TestRunProduce_MultipleSources(t *testing.T) {
	stubPusher(t)
	err := RunProduce([]string{"--file", "test.json", "--json", "{}"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error when both --file and --json specified")
	}
	if !strings.Contains(err.Error(), "more than one") {
		t.Errorf("expected error to mention more than one source, got: %v", err)
	}
}

func TestRunProduce_InvalidRate(t *testing.T) {
	stubPusher(t)
	for _, rate := range []string{"fast", "0", "-5"} {
		if err := RunProduce([]string{"--json", "{}", "--rate", rate}, &bytes.Buffer{}); err == nil {
			t.Errorf("--rate %s: expected error", rate)
		}
	}
}

func TestRunProduce_UnsupportedBackend(t *testing.T) {
	stubPusher(t)
	err := RunProduce([]string{"--json", "{}", "--backend", "sqs"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestRunProduce_PusherError(t *testing.T) {
	old := newPusherFunc
	newPusherFunc = func(config.QueueConfig) (app.Pusher, error) { return nil, errors.New("dial tcp: refused") }
	t.Cleanup(func() { newPusherFunc = old })

	err := RunProduce([]string{"--json", "{}"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected pusher error, got %v", err)
	}
}

func TestRunProduce_InlineJSON(t *testing.T) {
	q, cfg := stubPusher(t)
	raw := `{"price":100,"wday":2,"index":"e1"}`

	var buf bytes.Buffer
	if err := RunProduce([]string{"--json", raw, "--count", "3", "--addr", "redis:6380"}, &buf); err != nil {
		t.Fatalf("RunProduce: %v", err)
	}
	if cfg.Backend != config.BackendRedis || cfg.Redis.Addr != "redis:6380" || cfg.Name != "events_queue" {
		t.Errorf("queue config = %+v", cfg)
	}

	got := drain(t, q, "events_queue")
	if len(got) != 3 {
		t.Fatalf("pushed %d events, want 3", len(got))
	}
	for _, p := range got {
		if p != raw {
			t.Errorf("payload = %q, want it verbatim", p)
		}
	}
	if !strings.Contains(buf.String(), "Successfully produced 3 event(s) to events_queue") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestRunProduce_InvalidInlineJSON(t *testing.T) {
	q, _ := stubPusher(t)
	err := RunProduce([]string{"--json", "{invalid json}"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "invalid json") {
		t.Fatalf("expected invalid json error, got %v", err)
	}
	if q.Len("events_queue") != 0 {
		t.Error("nothing should be pushed for invalid json")
	}
}

func TestRunProduce_EndMarker(t *testing.T) {
	q, _ := stubPusher(t)
	if err := RunProduce([]string{"--queue", "prices", "--json", `{"price":1}`, "--end"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("RunProduce: %v", err)
	}
	got := drain(t, q, "prices")
	if len(got) != 2 || got[1] != "" {
		t.Fatalf("got %q, want the event then an empty payload", got)
	}
}

func TestRunProduce_File(t *testing.T) {
	q, _ := stubPusher(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"price":100,"wday":2,"index":"e1"}

{"price":50, "wday":9, "index":"e2"}
{"price":10,"wday":0,"index":"e3"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RunProduce([]string{"--file", path, "--count", "2"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("RunProduce: %v", err)
	}
	got := drain(t, q, "events_queue")
	want := []string{`{"price":100,"wday":2,"index":"e1"}`, `{"price":50, "wday":9, "index":"e2"}`}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunProduce_FileErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jsonl")
	invalid := filepath.Join(dir, "invalid.jsonl")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(invalid, []byte("{\"price\":1}\n{not valid json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing file", filepath.Join(dir, "nope.jsonl"), "open file"},
		{"empty file", empty, "no valid json"},
		{"invalid line", invalid, "invalid json on line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubPusher(t)
			err := RunProduce([]string{"--file", tt.path}, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRunProduce_Generate(t *testing.T) {
	q, _ := stubPusher(t)
	if err := RunProduce([]string{"--generate", "25", "--rate", "10000"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("RunProduce: %v", err)
	}
	got := drain(t, q, "events_queue")
	if len(got) != 25 {
		t.Fatalf("generated %d events, want 25", len(got))
	}

	tr, _ := discount.New()
	for i, raw := range got {
		evt, _, err := tr.Process(raw)
		if err != nil {
			t.Fatalf("event %d does not parse: %v", i, err)
		}
		if evt.Wday < 0 || evt.Wday > 6 {
			t.Errorf("event %d wday = %d", i, evt.Wday)
		}
		var fields map[string]any
		_ = json.Unmarshal([]byte(raw), &fields)
		for _, key := range []string{"index", "wday", "payload", "price", "user_id"} {
			if _, ok := fields[key]; !ok {
				t.Errorf("event %d missing %q", i, key)
			}
		}
	}
}

func TestProduceQueueConfig(t *testing.T) {
	t.Run("redis host from environment", func(t *testing.T) {
		t.Setenv("PRICER_REDIS_ADDR", "")
		t.Setenv("REDIS_HOST", "cache")
		cfg, err := produceQueueConfig("events_queue", config.BackendRedis, "", "")
		if err != nil {
			t.Fatalf("produceQueueConfig: %v", err)
		}
		if cfg.Redis.Addr != "cache:6379" {
			t.Errorf("addr = %q, want cache:6379", cfg.Redis.Addr)
		}
	})

	t.Run("kafka brokers", func(t *testing.T) {
		cfg, err := produceQueueConfig("events_queue", config.BackendKafka, "", "b1:9092, b2:9092")
		if err != nil {
			t.Fatalf("produceQueueConfig: %v", err)
		}
		brokers := cfg.Kafka.Cluster.Brokers
		if len(brokers) != 2 || brokers[0] != "b1:9092" || brokers[1] != "b2:9092" {
			t.Errorf("brokers = %v", brokers)
		}
	})

	t.Run("kafka default broker", func(t *testing.T) {
		cfg, _ := produceQueueConfig("events_queue", config.BackendKafka, "", "")
		if len(cfg.Kafka.Cluster.Brokers) != 1 || cfg.Kafka.Cluster.Brokers[0] != "localhost:9092" {
			t.Errorf("brokers = %v", cfg.Kafka.Cluster.Brokers)
		}
	})
}
