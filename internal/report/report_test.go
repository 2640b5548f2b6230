package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestResult_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Result
		want string
	}{
		{"string index", Result{1700000000000, json.RawMessage(`"e1"`), "abc"}, `[1700000000000,"e1","abc"]`},
		{"numeric index", Result{5, json.RawMessage(`42`), "f"}, `[5,42,"f"]`},
		{"object index", Result{5, json.RawMessage(`{"id":7}`), "f"}, `[5,{"id":7},"f"]`},
		{"missing index", Result{5, nil, "f"}, `[5,null,"f"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResult_UnmarshalJSON(t *testing.T) {
	var r Result
	if err := json.Unmarshal([]byte(`[12, "e2", "d41d8cd98f00b204e9800998ecf8427e"]`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Timestamp != 12 || string(r.Index) != `"e2"` || r.Fingerprint != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestResult_UnmarshalJSON_Invalid(t *testing.T) {
	tests := []string{
		`{"ts":1}`,
		`[1,"e1"]`,
		`["x","e1","f"]`,
		`[1,"e1",2]`,
		`not json`,
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			var r Result
			if err := json.Unmarshal([]byte(in), &r); err == nil {
				t.Errorf("expected error for %s", in)
			}
		})
	}
}

func TestChannelReporter_Send(t *testing.T) {
	ch := make(chan Result, 1)
	rep := NewChannelReporter(ch)
	want := Result{Timestamp: 1, Index: json.RawMessage(`"e1"`), Fingerprint: "f"}

	if err := rep.Send(context.Background(), want); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := <-ch
	if got.Timestamp != want.Timestamp || string(got.Index) != string(want.Index) || got.Fingerprint != want.Fingerprint {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestChannelReporter_FullChannelHonoursContext(t *testing.T) {
	rep := NewChannelReporter(make(chan Result))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rep.Send(ctx, Result{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestLineReporter_WritesOneLinePerResult(t *testing.T) {
	var buf bytes.Buffer
	rep := NewLineReporter(&buf)
	ctx := context.Background()

	_ = rep.Send(ctx, Result{1, json.RawMessage(`"a"`), "x"})
	_ = rep.Send(ctx, Result{2, json.RawMessage(`"b"`), "y"})

	want := "[1,\"a\",\"x\"]\n[2,\"b\",\"y\"]\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestLineReporter_Closed(t *testing.T) {
	var buf bytes.Buffer
	rep := NewLineReporter(&buf)
	_ = rep.Close()
	if err := rep.Send(context.Background(), Result{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected output after close: %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestLineReporter_WriteError(t *testing.T) {
	rep := NewLineReporter(failingWriter{})
	if err := rep.Send(context.Background(), Result{}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestLineReporter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	rep := NewLineReporter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = rep.Send(context.Background(), Result{int64(i), json.RawMessage(`"idx"`), strings.Repeat("f", 32)})
		}(i)
	}
	wg.Wait()

	n := 0
	err := ReadLines(context.Background(), &buf, func(r Result) error {
		n++
		if len(r.Fingerprint) != 32 {
			t.Errorf("corrupted line: %+v", r)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 50 {
		t.Errorf("read %d results, want 50", n)
	}
}

func TestReadLines(t *testing.T) {
	in := "[1,\"a\",\"x\"]\n\n[2,{\"k\":1},\"y\"]\n"
	var got []Result
	err := ReadLines(context.Background(), strings.NewReader(in), func(r Result) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || string(got[1].Index) != `{"k":1}` {
		t.Errorf("unexpected results: %+v", got)
	}
}

func TestReadLines_BadLine(t *testing.T) {
	err := ReadLines(context.Background(), strings.NewReader("[1,\"a\",\"x\"]\ngarbage\n"), func(Result) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestReadLines_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	err := ReadLines(context.Background(), strings.NewReader("[1,\"a\",\"x\"]\n"), func(Result) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestReadLines_LongIndex(t *testing.T) {
	index := `"` + strings.Repeat("i", 200*1024) + `"`
	in := "[1," + index + ",\"x\"]\n[2,\"b\",\"y\"]\n"

	var got []Result
	err := ReadLines(context.Background(), strings.NewReader(in), func(r Result) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d results, want 2", len(got))
	}
	if len(got[0].Index) != len(index) {
		t.Errorf("index is %d bytes, want %d", len(got[0].Index), len(index))
	}
}
