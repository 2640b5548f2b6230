package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/queue"
)

type fakeClient struct {
	polls     []kgo.Fetches
	pollCalls int
	marked    []*kgo.Record
	commitErr error
	produced  []*kgo.Record
	produceErr error
	closed    bool
}

func (f *fakeClient) PollRecords(ctx context.Context, _ int) kgo.Fetches {
	f.pollCalls++
	if len(f.polls) == 0 {
		<-ctx.Done()
		return fetchErr("events_queue", ctx.Err())
	}
	next := f.polls[0]
	f.polls = f.polls[1:]
	return next
}

func (f *fakeClient) MarkCommitRecords(rs ...*kgo.Record) { f.marked = append(f.marked, rs...) }

func (f *fakeClient) CommitMarkedOffsets(context.Context) error { return f.commitErr }

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	if f.produceErr != nil {
		return kgo.ProduceResults{{Record: rs[0], Err: f.produceErr}}
	}
	f.produced = append(f.produced, rs...)
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r}
	}
	return results
}

func (f *fakeClient) Close() { f.closed = true }

func fetchOf(topic string, values ...string) kgo.Fetches {
	recs := make([]*kgo.Record, len(values))
	for i, v := range values {
		recs[i] = &kgo.Record{Topic: topic, Value: []byte(v), Offset: int64(i)}
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      topic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: recs}},
	}}}}
}

func fetchErr(topic string, err error) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      topic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Err: err}},
	}}}}
}

func TestNewClient_Validation(t *testing.T) {
	cluster := kafka.Config{Brokers: []string{"localhost:9092"}}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing topic", Config{Cluster: cluster, ConsumerGroup: "g"}},
		{"missing group", Config{Cluster: cluster, Topic: "t"}},
		{"missing brokers", Config{Topic: "t", ConsumerGroup: "g"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(Config{
		Cluster:       kafka.Config{Brokers: []string{"localhost:9092"}},
		Topic:         "events_queue",
		ConsumerGroup: "pricer",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = c.Close() }()
	if c.topic != "events_queue" || c.maxBuffered != 100 {
		t.Errorf("unexpected client settings: topic=%s maxBuffered=%d", c.topic, c.maxBuffered)
	}
}

func TestClient_PopBuffersAndCommitsEachRecord(t *testing.T) {
	fc := &fakeClient{polls: []kgo.Fetches{fetchOf("events_queue", "a", "b")}}
	c := newClient(fc, "events_queue", 10, slog.Default())

	for _, want := range []string{"a", "b"} {
		item, err := c.Pop(context.Background(), "events_queue", time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if item == nil || item.Payload != want {
			t.Fatalf("got %+v, want %q", item, want)
		}
	}
	if fc.pollCalls != 1 {
		t.Errorf("expected 1 poll for a buffered fetch, got %d", fc.pollCalls)
	}
	if len(fc.marked) != 2 {
		t.Errorf("expected 2 marked records, got %d", len(fc.marked))
	}
}

func TestClient_PopTimeoutReturnsNil(t *testing.T) {
	fc := &fakeClient{}
	c := newClient(fc, "events_queue", 0, slog.Default())

	item, err := c.Pop(context.Background(), "events_queue", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func TestClient_PopEmptyValue(t *testing.T) {
	fc := &fakeClient{polls: []kgo.Fetches{fetchOf("events_queue", "")}}
	c := newClient(fc, "events_queue", 0, slog.Default())

	item, err := c.Pop(context.Background(), "events_queue", time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item == nil || item.Payload != "" {
		t.Fatalf("expected an item with empty payload, got %+v", item)
	}
}

func TestClient_PopFetchError(t *testing.T) {
	fc := &fakeClient{polls: []kgo.Fetches{fetchErr("events_queue", errors.New("broker gone"))}}
	c := newClient(fc, "events_queue", 0, slog.Default())

	if _, err := c.Pop(context.Background(), "events_queue", time.Second); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestClient_PopClientClosed(t *testing.T) {
	fc := &fakeClient{polls: []kgo.Fetches{fetchErr("events_queue", kgo.ErrClientClosed)}}
	c := newClient(fc, "events_queue", 0, slog.Default())

	if _, err := c.Pop(context.Background(), "events_queue", time.Second); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClient_PopWrongTopic(t *testing.T) {
	c := newClient(&fakeClient{}, "events_queue", 0, slog.Default())
	if _, err := c.Pop(context.Background(), "other", time.Second); err == nil {
		t.Fatal("expected error for unbound topic")
	}
}

func TestClient_PopCommitErrorStillReturnsItem(t *testing.T) {
	fc := &fakeClient{polls: []kgo.Fetches{fetchOf("events_queue", "x")}, commitErr: errors.New("commit failed")}
	c := newClient(fc, "events_queue", 0, slog.Default())

	item, err := c.Pop(context.Background(), "events_queue", time.Second)
	if err != nil || item == nil || item.Payload != "x" {
		t.Fatalf("got %+v, %v", item, err)
	}
}

func TestClient_Push(t *testing.T) {
	fc := &fakeClient{}
	c := newClient(fc, "events_queue", 0, slog.Default())

	if err := c.Push(context.Background(), "events_queue", "p1", "p2"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(fc.produced) != 2 || string(fc.produced[1].Value) != "p2" || fc.produced[0].Topic != "events_queue" {
		t.Fatalf("unexpected produced records: %+v", fc.produced)
	}

	fc.produceErr = errors.New("not leader")
	if err := c.Push(context.Background(), "events_queue", "p3"); err == nil {
		t.Fatal("expected produce error")
	}
}

func TestClient_Close(t *testing.T) {
	fc := &fakeClient{}
	c := newClient(fc, "events_queue", 0, slog.Default())
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fc.closed {
		t.Error("underlying client not closed")
	}
}
