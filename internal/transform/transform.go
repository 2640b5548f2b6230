package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// NoWeekday stands for a wday that is absent, null, or a number that is not
// an integer in int range. It prices at 0%.
const NoWeekday = -1

// Event is the structured form of a pricing event popped from the queue.
// Index is kept as raw JSON so it can be echoed back byte-for-byte.
type Event struct {
	Price decimal.Decimal `json:"price"`
	Wday  int             `json:"wday"`
	Index json.RawMessage `json:"index"`
	Total decimal.Decimal `json:"total"`
}

// Transformer maps a raw event payload to its priced form and fingerprint.
type Transformer interface {
	// Process parses raw, prices it, and returns the fingerprint of raw.
	// Returns a *ParseError if raw is not a valid event.
	Process(raw string) (*Event, string, error)
}

// ParseError reports a payload that could not be decoded into an Event.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse event: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNotObject = errors.New("event is not a JSON object")

// Decode parses a raw payload. Only the exact keys price, wday and index are
// read; other spellings are ignored. A non-numeric wday is an error.
func Decode(raw []byte) (*Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotObject
	}

	evt := &Event{Wday: NoWeekday, Index: fields["index"]}
	if p, ok := fields["price"]; ok {
		if err := evt.Price.UnmarshalJSON(p); err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}
	if w, ok := fields["wday"]; ok {
		wday, err := decodeWeekday(w)
		if err != nil {
			return nil, err
		}
		evt.Wday = wday
	}
	return evt, nil
}

func decodeWeekday(data json.RawMessage) (int, error) {
	if bytes.Equal(data, []byte("null")) {
		return NoWeekday, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("wday: %w", err)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("wday: %s is not a number", data)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 0); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return NoWeekday, nil
	}
	return int(f), nil
}
