// Package discount prices events with the weekday discount table and
// fingerprints their raw payloads.
package discount

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/shopspring/decimal"

	"github.com/lsm/pricer/internal/transform"
)

// table maps weekday index (0-6) to a discount percentage.
var table = [...]int64{0, 5, 10, 15, 20, 25, 30}

// Table returns a copy of the weekday discount table.
func Table() []int64 {
	out := make([]int64, len(table))
	copy(out, table[:])
	return out
}

// Discount returns the discount percentage for wday.
// Any weekday outside the table yields 0.
func Discount(wday int) int64 {
	if wday < 0 || wday >= len(table) {
		return 0
	}
	return table[wday]
}

// Total returns price * (1 - discount/100) for the given weekday.
func Total(price decimal.Decimal, wday int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(100 - Discount(wday))).Shift(-2)
}

// Algorithm names a fingerprint digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
)

// Valid reports whether a is a supported digest.
func (a Algorithm) Valid() bool {
	return a == MD5 || a == SHA256
}

func (a Algorithm) newHash() hash.Hash {
	if a == SHA256 {
		return sha256.New()
	}
	return md5.New()
}

// Fingerprint returns the hex digest of raw using alg.
func Fingerprint(alg Algorithm, raw string) string {
	h := alg.newHash()
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// Transformer implements transform.Transformer.
type Transformer struct {
	algorithm Algorithm
	round     int32
	rounding  bool
}

var _ transform.Transformer = (*Transformer)(nil)

// Option configures a Transformer.
type Option func(*Transformer)

// WithAlgorithm selects the fingerprint digest. The default is MD5.
func WithAlgorithm(alg Algorithm) Option {
	return func(t *Transformer) {
		t.algorithm = alg
	}
}

// WithRounding rounds totals half-up to places decimal places.
// Totals are exact when no rounding is configured.
func WithRounding(places int32) Option {
	return func(t *Transformer) {
		t.round = places
		t.rounding = true
	}
}

// New creates a discount transformer.
func New(opts ...Option) (*Transformer, error) {
	t := &Transformer{algorithm: MD5}
	for _, opt := range opts {
		opt(t)
	}
	if !t.algorithm.Valid() {
		return nil, fmt.Errorf("unsupported fingerprint algorithm %q", t.algorithm)
	}
	if t.rounding && t.round < 0 {
		return nil, fmt.Errorf("rounding places must be >= 0, got %d", t.round)
	}
	return t, nil
}

// Process parses raw, fingerprints it, and writes the discounted total.
// The fingerprint covers the raw string only.
func (t *Transformer) Process(raw string) (*transform.Event, string, error) {
	evt, err := transform.Decode([]byte(raw))
	if err != nil {
		return nil, "", &transform.ParseError{Raw: raw, Err: err}
	}

	fingerprint := Fingerprint(t.algorithm, raw)

	evt.Total = Total(evt.Price, evt.Wday)
	if t.rounding {
		evt.Total = evt.Total.Round(t.round)
	}
	return evt, fingerprint, nil
}
