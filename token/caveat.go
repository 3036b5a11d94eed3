package token

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"
)

// CaveatKind is the one-byte type tag that prefixes every encoded caveat.
type CaveatKind uint8

const (
	// KindAmount tags an [AmountCaveat].
	KindAmount CaveatKind = 1
	// KindAddress tags an [AddressCaveat].
	KindAddress CaveatKind = 2
	// KindExpiry tags an [ExpiryCaveat].
	KindExpiry CaveatKind = 3
)

func (k CaveatKind) String() string {
	switch k {
	case KindAmount:
		return "amount"
	case KindAddress:
		return "address"
	case KindExpiry:
		return "expiry"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Caveat is a restriction attached to a token. The set of implementations is closed:
// [AmountCaveat], [AddressCaveat] and [ExpiryCaveat].
type Caveat interface {
	Kind() CaveatKind

	appendBody(w *oerWriter)
	normalized() Caveat
	validate() error
}

// AmountCaveat limits how much may be sent per period. Amount may be sent in each of
// Repetitions consecutive windows of length Duration starting at StartTime.
type AmountCaveat struct {
	Amount      *big.Int
	StartTime   time.Time
	Duration    time.Duration
	Repetitions uint64
}

// NewAmountCaveat returns an amount caveat normalized to the wire precision
// (milliseconds). The amount is copied.
func NewAmountCaveat(amount *big.Int, start time.Time, period time.Duration, repetitions uint64) *AmountCaveat {
	c := &AmountCaveat{
		StartTime:   start,
		Duration:    period,
		Repetitions: repetitions,
	}
	if amount != nil {
		c.Amount = new(big.Int).Set(amount)
	}
	return c.normalized().(*AmountCaveat)
}

func (c *AmountCaveat) Kind() CaveatKind { return KindAmount }

func (c *AmountCaveat) appendBody(w *oerWriter) {
	w.writeVarBigUint(c.Amount)
	w.writeVarUint(uint64(c.StartTime.UnixMilli()))
	w.writeVarUint(uint64(c.Duration.Milliseconds()))
	w.writeVarUint(c.Repetitions)
}

func (c *AmountCaveat) normalized() Caveat {
	out := &AmountCaveat{
		StartTime:   time.UnixMilli(c.StartTime.UnixMilli()).UTC(),
		Duration:    c.Duration.Truncate(time.Millisecond),
		Repetitions: c.Repetitions,
	}
	if c.Amount != nil {
		out.Amount = new(big.Int).Set(c.Amount)
	}
	return out
}

func (c *AmountCaveat) validate() error {
	switch {
	case c.Amount == nil:
		return fmt.Errorf("%w: amount is required", ErrMalformedCaveat)
	case c.Amount.Sign() < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrMalformedCaveat)
	case c.StartTime.UnixMilli() < 0:
		return fmt.Errorf("%w: start time before epoch", ErrMalformedCaveat)
	case c.Duration < time.Millisecond:
		return fmt.Errorf("%w: duration must be at least 1ms", ErrMalformedCaveat)
	case c.Repetitions < 1:
		return fmt.Errorf("%w: repetitions must be >= 1", ErrMalformedCaveat)
	}
	return nil
}

// Equal reports whether both caveats carry the same values.
func (c *AmountCaveat) Equal(o *AmountCaveat) bool {
	if c == nil || o == nil {
		return c == o
	}
	if (c.Amount == nil) != (o.Amount == nil) {
		return false
	}
	if c.Amount != nil && c.Amount.Cmp(o.Amount) != 0 {
		return false
	}
	return c.StartTime.Equal(o.StartTime) &&
		c.Duration == o.Duration &&
		c.Repetitions == o.Repetitions
}

// AddressCaveat restricts the destination addresses money may be sent to. An address
// is allowed when it starts with one of Prefixes.
type AddressCaveat struct {
	Prefixes []string
}

// NewAddressCaveat copies prefixes into a new caveat.
func NewAddressCaveat(prefixes ...string) *AddressCaveat {
	return &AddressCaveat{Prefixes: append([]string(nil), prefixes...)}
}

func (c *AddressCaveat) Kind() CaveatKind { return KindAddress }

func (c *AddressCaveat) appendBody(w *oerWriter) {
	w.writeVarUint(uint64(len(c.Prefixes)))
	for _, p := range c.Prefixes {
		w.writeVarBytes([]byte(p))
	}
}

func (c *AddressCaveat) normalized() Caveat {
	return NewAddressCaveat(c.Prefixes...)
}

func (c *AddressCaveat) validate() error {
	for i, p := range c.Prefixes {
		if !utf8.ValidString(p) {
			return fmt.Errorf("%w: address prefix %d is not valid UTF-8", ErrMalformedCaveat, i)
		}
	}
	return nil
}

// Allows reports whether address starts with one of the caveat's prefixes.
func (c *AddressCaveat) Allows(address string) bool {
	return prefixMatch(c.Prefixes, address)
}

// ExpiryCaveat bounds the instant after which the token is no longer valid.
type ExpiryCaveat struct {
	Expiry time.Time
}

// NewExpiryCaveat returns an expiry caveat normalized to millisecond precision.
func NewExpiryCaveat(expiry time.Time) *ExpiryCaveat {
	return (&ExpiryCaveat{Expiry: expiry}).normalized().(*ExpiryCaveat)
}

func (c *ExpiryCaveat) Kind() CaveatKind { return KindExpiry }

func (c *ExpiryCaveat) appendBody(w *oerWriter) {
	w.writeVarUint(uint64(c.Expiry.UnixMilli()))
}

func (c *ExpiryCaveat) normalized() Caveat {
	return &ExpiryCaveat{Expiry: time.UnixMilli(c.Expiry.UnixMilli()).UTC()}
}

func (c *ExpiryCaveat) validate() error {
	if c.Expiry.UnixMilli() < 0 {
		return fmt.Errorf("%w: expiry before epoch", ErrMalformedCaveat)
	}
	return nil
}

// EncodeCaveat returns the framed encoding of c: the type byte followed by the
// length-prefixed body. The same bytes appear on the wire and feed the signature chain.
func EncodeCaveat(c Caveat) []byte {
	var body oerWriter
	c.appendBody(&body)

	var w oerWriter
	w.writeByte(byte(c.Kind()))
	w.writeVarBytes(body.bytes())
	return w.bytes()
}

// DecodeCaveat decodes a caveat body of the given kind. The body must be consumed
// exactly.
func DecodeCaveat(kind CaveatKind, body []byte) (Caveat, error) {
	r := newOERReader(body)

	var (
		c   Caveat
		err error
	)
	switch kind {
	case KindAmount:
		c, err = decodeAmount(r)
	case KindAddress:
		c, err = decodeAddress(r)
	case KindExpiry:
		c, err = decodeExpiry(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCaveatType, uint8(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCaveat, kind, err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedCaveat, kind, r.remaining())
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeAmount(r *oerReader) (Caveat, error) {
	amount, err := r.readVarBigUint()
	if err != nil {
		return nil, err
	}
	startMs, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	durationMs, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	repetitions, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	if startMs > math.MaxInt64 || durationMs > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return nil, errOverflow
	}

	return &AmountCaveat{
		Amount:      amount,
		StartTime:   time.UnixMilli(int64(startMs)).UTC(),
		Duration:    time.Duration(durationMs) * time.Millisecond,
		Repetitions: repetitions,
	}, nil
}

func decodeAddress(r *oerReader) (Caveat, error) {
	count, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	// Every prefix needs at least its length byte.
	if count > uint64(r.remaining()) {
		return nil, errShortBuffer
	}

	prefixes := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := r.readVarBytes()
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, string(raw))
	}
	return &AddressCaveat{Prefixes: prefixes}, nil
}

func decodeExpiry(r *oerReader) (Caveat, error) {
	ms, err := r.readVarUint()
	if err != nil {
		return nil, err
	}
	if ms > math.MaxInt64 {
		return nil, errOverflow
	}
	return &ExpiryCaveat{Expiry: time.UnixMilli(int64(ms)).UTC()}, nil
}

func prefixMatch(prefixes []string, address string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(address, p) {
			return true
		}
	}
	return false
}

func cloneCaveats(in []Caveat) []Caveat {
	out := make([]Caveat, len(in))
	for i, c := range in {
		out[i] = c.normalized()
	}
	return out
}
