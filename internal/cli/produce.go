package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/lsm/pricer/internal/app"
	"github.com/lsm/pricer/internal/config"
	"github.com/lsm/pricer/internal/kafka"
	"github.com/lsm/pricer/internal/queue"
)

// newPusherFunc opens the queue producer. Tests replace it with a memory queue.
var newPusherFunc = func(cfg config.QueueConfig) (app.Pusher, error) {
	return app.NewPusher(cfg, nil)
}

// RunProduce pushes events onto a queue. Output goes to w (stdout when nil).
func RunProduce(args []string, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		fmt.Fprintln(w, `Usage: pricer produce [--queue <name>] [--json <data> | --file <path> | --generate <n>] [flags]

Pushes pricing events onto the queue the workers pop from.

Flags:
  --queue     Queue name (default: events_queue)
  --backend   Queue backend: redis or kafka (default: redis)
  --addr      Redis address (default: $REDIS_HOST or localhost:6379)
  --brokers   Kafka broker addresses, comma separated (default: localhost:9092)
  --json      Inline JSON for a single event
  --file      Path to a JSONL file, one event per line
  --generate  Push n random events
  --count     Number of events to push (default: 1 for --json, all lines for --file)
  --rate      Events per second. Default: no limiting
  --end       Push an empty payload after the events so that one worker stops

Examples:
  # Push one event
  pricer produce --json '{"price":100,"wday":2,"index":"e1"}'

  # Push 10000 random events at 500/s, then stop one worker
  pricer produce --generate 10000 --rate 500 --end`)
		return nil
	}

	name, err := parseStringFlag(args, "--queue")
	if err != nil {
		return err
	}
	if name == "" {
		name = queue.DefaultName
	}
	backend, err := parseStringFlag(args, "--backend")
	if err != nil {
		return err
	}
	if backend == "" {
		backend = config.BackendRedis
	}
	addr, err := parseStringFlag(args, "--addr")
	if err != nil {
		return err
	}
	brokers, err := parseStringFlag(args, "--brokers")
	if err != nil {
		return err
	}
	filePath, err := parseStringFlag(args, "--file")
	if err != nil {
		return err
	}
	inlineJSON, err := parseStringFlag(args, "--json")
	if err != nil {
		return err
	}
	generate, err := parseIntFlag(args, "--generate", 0)
	if err != nil {
		return err
	}
	count, err := parseIntFlag(args, "--count", 0)
	if err != nil {
		return err
	}
	perSecond, err := parseFloatFlag(args, "--rate", 0)
	if err != nil {
		return err
	}

	sources := 0
	for _, set := range []bool{filePath != "", inlineJSON != "", generate > 0} {
		if set {
			sources++
		}
	}
	if sources == 0 {
		return fmt.Errorf("one of --file, --json or --generate must be specified")
	}
	if sources > 1 {
		return fmt.Errorf("cannot specify more than one of --file, --json and --generate")
	}

	cfg, err := produceQueueConfig(name, backend, addr, brokers)
	if err != nil {
		return err
	}

	p, err := newPusherFunc(cfg)
	if err != nil {
		return fmt.Errorf("create %s producer: %w", backend, err)
	}
	defer func() { _ = p.Close() }()

	ctx, stop := notifyContext(context.Background())
	defer stop()

	pr := &producer{
		pusher: p,
		queue:  name,
		out:    w,
		limit:  rate.NewLimiter(rate.Inf, 1),
	}
	if perSecond > 0 {
		pr.limit = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	switch {
	case inlineJSON != "":
		if count == 0 {
			count = 1
		}
		err = pr.inline(ctx, inlineJSON, count)
	case filePath != "":
		err = pr.file(ctx, filePath, count)
	default:
		err = pr.generate(ctx, generate)
	}
	if err != nil {
		return err
	}

	if hasFlag(args, "--end") {
		if err := p.Push(ctx, name, ""); err != nil {
			return fmt.Errorf("push end marker: %w", err)
		}
		fmt.Fprintf(w, "Pushed end marker to %s\n", name)
	}
	fmt.Fprintf(w, "Successfully produced %d event(s) to %s\n", pr.produced, name)
	return nil
}

func produceQueueConfig(name, backend, addr, brokers string) (config.QueueConfig, error) {
	cfg := config.Default().Queue
	cfg.Name = name
	cfg.Backend = backend

	switch backend {
	case config.BackendRedis:
		if addr == "" {
			env := config.Default()
			if err := env.ApplyEnv(os.LookupEnv); err != nil {
				return cfg, err
			}
			addr = env.Queue.Redis.Addr
		}
		cfg.Redis.Addr = addr
	case config.BackendKafka:
		cfg.Kafka.Cluster.Brokers = []string{"localhost:9092"}
		if brokers != "" {
			cfg.Kafka.Cluster.Brokers = kafka.ParseBrokers(brokers)
		}
	default:
		return cfg, fmt.Errorf("unsupported backend %q: use redis or kafka", backend)
	}
	return cfg, nil
}

type producer struct {
	pusher   queue.Pusher
	queue    string
	out      io.Writer
	limit    *rate.Limiter
	produced int
}

func (p *producer) push(ctx context.Context, payload string) error {
	if err := p.limit.Wait(ctx); err != nil {
		return err
	}
	if err := p.pusher.Push(ctx, p.queue, payload); err != nil {
		return fmt.Errorf("push event %d: %w", p.produced+1, err)
	}
	p.produced++
	return nil
}

func (p *producer) inline(ctx context.Context, jsonStr string, count int) error {
	if !json.Valid([]byte(jsonStr)) {
		return fmt.Errorf("invalid json: %q", jsonStr)
	}
	for i := 0; i < count; i++ {
		if err := p.push(ctx, jsonStr); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Produced event %d to %s\n", i+1, p.queue)
	}
	return nil
}

// file pushes each non-empty line verbatim; the workers fingerprint the
// exact bytes, so lines are not re-encoded.
func (p *producer) file(ctx context.Context, path string, count int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return fmt.Errorf("invalid json on line %d", lineNum)
		}
		if err := p.push(ctx, line); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Produced event %d (line %d) to %s\n", p.produced, lineNum, p.queue)
		if count > 0 && p.produced >= count {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if p.produced == 0 {
		return fmt.Errorf("no valid json events found in file")
	}
	return nil
}

// generatedEvent has the shape of the events pushed by the load generator.
type generatedEvent struct {
	Index   int     `json:"index"`
	Wday    int     `json:"wday"`
	Payload string  `json:"payload"`
	Price   float64 `json:"price"`
	UserID  int     `json:"user_id"`
}

func (p *producer) generate(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		data, err := json.Marshal(randomEvent(i))
		if err != nil {
			return err
		}
		if err := p.push(ctx, string(data)); err != nil {
			return err
		}
	}
	fmt.Fprintf(p.out, "Generated %d event(s) on %s\n", n, p.queue)
	return nil
}

const payloadAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomEvent(index int) generatedEvent {
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = payloadAlphabet[rand.IntN(len(payloadAlphabet))]
	}
	return generatedEvent{
		Index:   index,
		Wday:    rand.IntN(7),
		Payload: string(payload),
		Price:   float64(rand.IntN(100000)) / 100,
		UserID:  rand.IntN(10000),
	}
}
