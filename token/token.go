package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"
)

const (
	// Version is the only wire format version this package reads and writes.
	Version = 1
	// SignatureSize is the size of the HMAC-SHA256 signature chain value.
	SignatureSize = sha256.Size
	// KeyIDSize is the size of identifiers produced by [NewKeyID].
	KeyIDSize = 16
)

// Token is a macaroon-style capability. A Token is not safe for concurrent attenuation;
// encoding and verification do not mutate it.
type Token struct {
	keyID     []byte
	location  string
	signature [SignatureSize]byte
	caveats   []Caveat
	effective Effective
}

// NewKeyID returns a fresh random key identifier.
func NewKeyID() ([]byte, error) {
	id := make([]byte, KeyIDSize)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return id, nil
}

// FromRootKey creates an issuer-side token with no caveats. The initial signature is
// HMAC(rootKey, keyID).
func FromRootKey(keyID []byte, location string, rootKey []byte) (*Token, error) {
	if len(rootKey) == 0 {
		return nil, ErrEmptyRootKey
	}
	if len(keyID) == 0 {
		return nil, ErrEmptyKeyID
	}
	if !utf8.ValidString(location) {
		return nil, fmt.Errorf("%w: location is not valid UTF-8", ErrMalformedToken)
	}

	return &Token{
		keyID:     bytes.Clone(keyID),
		location:  location,
		signature: mac(rootKey, keyID),
	}, nil
}

// FromSignature reconstructs a token held without the root key. The caveat history is
// folded immediately; a history in which a caveat widens an earlier one is rejected with
// [ErrInvalidCaveatChain]. The signature itself is not checked until [Token.Verify].
func FromSignature(keyID []byte, location string, signature [SignatureSize]byte, caveats []Caveat) (*Token, error) {
	if len(keyID) == 0 {
		return nil, ErrEmptyKeyID
	}
	if !utf8.ValidString(location) {
		return nil, fmt.Errorf("%w: location is not valid UTF-8", ErrMalformedToken)
	}

	list := cloneCaveats(caveats)
	for i, c := range list {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("caveat %d: %w", i, err)
		}
	}
	eff, err := foldCaveats(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCaveatChain, err)
	}

	return &Token{
		keyID:     bytes.Clone(keyID),
		location:  location,
		signature: signature,
		caveats:   list,
		effective: eff,
	}, nil
}

// AddCaveat attenuates the token. The caveat must be at least as restrictive as every
// earlier caveat of its kind; otherwise [ErrCaveatWidening] is returned and the token is
// left unchanged.
func (t *Token) AddCaveat(c Caveat) error {
	if c == nil {
		return fmt.Errorf("%w: nil caveat", ErrMalformedCaveat)
	}
	c = c.normalized()
	if err := c.validate(); err != nil {
		return err
	}
	eff, err := t.effective.apply(c)
	if err != nil {
		return err
	}

	sig := mac(t.signature[:], EncodeCaveat(c))

	t.caveats = append(t.caveats, c)
	t.effective = eff
	t.signature = sig
	return nil
}

// SetAmount adds an [AmountCaveat].
func (t *Token) SetAmount(amount *big.Int, start time.Time, period time.Duration, repetitions uint64) error {
	return t.AddCaveat(NewAmountCaveat(amount, start, period, repetitions))
}

// SetAddress adds an [AddressCaveat].
func (t *Token) SetAddress(prefixes ...string) error {
	return t.AddCaveat(NewAddressCaveat(prefixes...))
}

// SetExpiry adds an [ExpiryCaveat].
func (t *Token) SetExpiry(expiry time.Time) error {
	return t.AddCaveat(NewExpiryCaveat(expiry))
}

// KeyID returns a copy of the key identifier.
func (t *Token) KeyID() []byte {
	return bytes.Clone(t.keyID)
}

// ID returns the key identifier in lowercase hex, the correlation key used by the
// exchange and the budget registry.
func (t *Token) ID() string {
	return hex.EncodeToString(t.keyID)
}

// Location returns the issuer location hint.
func (t *Token) Location() string {
	return t.location
}

// Signature returns the current chain value.
func (t *Token) Signature() [SignatureSize]byte {
	return t.signature
}

// Caveats returns a copy of the ordered caveat list.
func (t *Token) Caveats() []Caveat {
	return cloneCaveats(t.caveats)
}

// Effective returns the folded caveat values.
func (t *Token) Effective() Effective {
	return t.effective
}

// AllowsAddress reports whether the token permits sending to address.
func (t *Token) AllowsAddress(address string) bool {
	return t.effective.AllowsAddress(address)
}

// ExpiredAt reports whether the effective expiry has passed at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	exp, ok := t.effective.Expiry()
	return ok && !now.Before(exp)
}

// Clone returns a deep copy that can be attenuated independently.
func (t *Token) Clone() *Token {
	out := &Token{
		keyID:     bytes.Clone(t.keyID),
		location:  t.location,
		signature: t.signature,
		caveats:   cloneCaveats(t.caveats),
	}
	// Folding an already accepted history cannot fail.
	out.effective, _ = foldCaveats(out.caveats)
	return out
}

// Equal reports whether both tokens have the same identifier, location, signature and
// encoded caveats.
func (t *Token) Equal(o *Token) bool {
	if t == nil || o == nil {
		return t == o
	}
	if !bytes.Equal(t.keyID, o.keyID) || t.location != o.location || t.signature != o.signature {
		return false
	}
	if len(t.caveats) != len(o.caveats) {
		return false
	}
	for i := range t.caveats {
		if !bytes.Equal(EncodeCaveat(t.caveats[i]), EncodeCaveat(o.caveats[i])) {
			return false
		}
	}
	return true
}

// Verify checks the signature chain against rootKey at the current time.
func (t *Token) Verify(rootKey []byte) error {
	return t.VerifyAt(rootKey, time.Now())
}

// VerifyAt recomputes the chain from rootKey and compares it in constant time. A valid
// token whose expiry has passed at now returns [ErrExpired].
func (t *Token) VerifyAt(rootKey []byte, now time.Time) error {
	if len(rootKey) == 0 {
		return ErrEmptyRootKey
	}

	expected := chain(rootKey, t.keyID, t.caveats)
	if !hmac.Equal(expected[:], t.signature[:]) {
		return ErrInvalidSignature
	}
	if t.ExpiredAt(now) {
		return ErrExpired
	}
	return nil
}

// MarshalBinary returns the canonical wire encoding.
func (t *Token) MarshalBinary() ([]byte, error) {
	return t.Bytes(), nil
}

// Bytes returns the canonical wire encoding.
func (t *Token) Bytes() []byte {
	var w oerWriter
	w.writeByte(Version)
	w.write(t.signature[:])
	w.writeVarBytes([]byte(t.location))
	w.writeVarBytes(t.keyID)
	w.writeVarUint(uint64(len(t.caveats)))
	for _, c := range t.caveats {
		w.write(EncodeCaveat(c))
	}
	return w.bytes()
}

// Parse decodes a token from its wire encoding. Structural problems wrap
// [ErrMalformedToken]; an unknown caveat additionally wraps [ErrUnknownCaveatType] and a
// widening caveat history returns [ErrInvalidCaveatChain].
func Parse(data []byte) (*Token, error) {
	r := newOERReader(data)

	version, err := r.readByte()
	if err != nil {
		return nil, malformed("version", err)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedToken, version)
	}

	sigBytes, err := r.read(SignatureSize)
	if err != nil {
		return nil, malformed("signature", err)
	}
	var signature [SignatureSize]byte
	copy(signature[:], sigBytes)

	location, err := r.readVarBytes()
	if err != nil {
		return nil, malformed("location", err)
	}
	if !utf8.Valid(location) {
		return nil, fmt.Errorf("%w: location is not valid UTF-8", ErrMalformedToken)
	}

	keyID, err := r.readVarBytes()
	if err != nil {
		return nil, malformed("key id", err)
	}
	if len(keyID) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, ErrEmptyKeyID)
	}

	count, err := r.readVarUint()
	if err != nil {
		return nil, malformed("caveat count", err)
	}
	// A caveat occupies at least a type byte and a length byte.
	if count > uint64(r.remaining()/2) {
		return nil, malformed("caveat count", errShortBuffer)
	}

	caveats := make([]Caveat, 0, count)
	for i := uint64(0); i < count; i++ {
		kind, err := r.readByte()
		if err != nil {
			return nil, malformed("caveat type", err)
		}
		body, err := r.readVarBytes()
		if err != nil {
			return nil, malformed("caveat body", err)
		}
		c, err := DecodeCaveat(CaveatKind(kind), body)
		if err != nil {
			return nil, fmt.Errorf("%w: caveat %d: %w", ErrMalformedToken, i, err)
		}
		caveats = append(caveats, c)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedToken, r.remaining())
	}

	return FromSignature(keyID, string(location), signature, caveats)
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedToken, field, err)
}

func chain(rootKey, keyID []byte, caveats []Caveat) [SignatureSize]byte {
	sig := mac(rootKey, keyID)
	for _, c := range caveats {
		sig = mac(sig[:], EncodeCaveat(c))
	}
	return sig
}

func mac(key, message []byte) [SignatureSize]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var out [SignatureSize]byte
	h.Sum(out[:0])
	return out
}
