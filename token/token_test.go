package token

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"
)

func newRootKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("root key: %v", err)
	}
	return k
}

func newTestToken(t *testing.T) (*Token, []byte) {
	t.Helper()
	keyID, err := NewKeyID()
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	rootKey := newRootKey(t)
	tok, err := FromRootKey(keyID, "https://issuer.example", rootKey)
	if err != nil {
		t.Fatalf("from root key: %v", err)
	}
	return tok, rootKey
}

func TestIssueAttenuateEncodeVerify(t *testing.T) {
	tok, rootKey := newTestToken(t)
	now := time.Now()

	if err := tok.SetAmount(big.NewInt(1000), now, time.Minute, 1); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if err := tok.SetAddress("g.issuer.acct123"); err != nil {
		t.Fatalf("set address: %v", err)
	}

	parsed, err := Parse(tok.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := parsed.VerifyAt(rootKey, now); err != nil {
		t.Fatalf("verify: %v", err)
	}

	amount, ok := parsed.Effective().Amount()
	if !ok || amount.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected effective amount 1000, got %+v (ok=%v)", amount, ok)
	}
	prefixes, ok := parsed.Effective().AddressPrefixes()
	if !ok || len(prefixes) != 1 || prefixes[0] != "g.issuer.acct123" {
		t.Fatalf("expected effective prefix g.issuer.acct123, got %v (ok=%v)", prefixes, ok)
	}
	if parsed.Location() != "https://issuer.example" {
		t.Fatalf("unexpected location %q", parsed.Location())
	}
}

func TestParseRoundTripFieldForField(t *testing.T) {
	tok, _ := newTestToken(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	huge := new(big.Int).Lsh(big.NewInt(1), 80)

	steps := []Caveat{
		NewAmountCaveat(huge, start, 90*time.Second, 12),
		NewAddressCaveat("g.issuer.", "private.moneyd."),
		NewExpiryCaveat(start.Add(24 * time.Hour)),
		NewAmountCaveat(big.NewInt(0), start.Add(90*time.Second), 3*time.Minute, 5),
		NewAddressCaveat("g.issuer.acct"),
	}
	for i, c := range steps {
		if err := tok.AddCaveat(c); err != nil {
			t.Fatalf("add caveat %d: %v", i, err)
		}
	}

	encoded := tok.Bytes()
	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(tok) {
		t.Fatal("parsed token differs from original")
	}
	if !bytes.Equal(parsed.KeyID(), tok.KeyID()) || parsed.Signature() != tok.Signature() {
		t.Fatal("identifier or signature changed across round trip")
	}
	if !bytes.Equal(parsed.Bytes(), encoded) {
		t.Fatal("re-encoding is not canonical")
	}

	got := parsed.Caveats()
	if len(got) != len(steps) {
		t.Fatalf("expected %d caveats, got %d", len(steps), len(got))
	}
	first, ok := got[0].(*AmountCaveat)
	if !ok {
		t.Fatalf("expected amount caveat first, got %T", got[0])
	}
	if first.Amount.Cmp(huge) != 0 || !first.StartTime.Equal(start.Truncate(time.Millisecond)) ||
		first.Duration != 90*time.Second || first.Repetitions != 12 {
		t.Fatalf("amount caveat changed across round trip: %+v", first)
	}
}

func TestTextRoundTrip(t *testing.T) {
	tok, rootKey := newTestToken(t)
	if err := tok.SetAmount(big.NewInt(10), time.Now(), time.Hour, 2); err != nil {
		t.Fatalf("set amount: %v", err)
	}

	for name, s := range map[string]string{
		"base64url": tok.EncodeString(),
		"hex":       hex.EncodeToString(tok.Bytes()),
	} {
		parsed, err := ParseString(s)
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if err := parsed.Verify(rootKey); err != nil {
			t.Fatalf("%s: verify: %v", name, err)
		}
	}

	if _, err := ParseString("   "); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for blank input, got %v", err)
	}
}

func TestChainIntegrityAcrossCaveats(t *testing.T) {
	tok, rootKey := newTestToken(t)
	now := time.Now()

	steps := []Caveat{
		NewAmountCaveat(big.NewInt(1000), now, time.Minute, 3),
		NewAddressCaveat("g.issuer"),
		NewExpiryCaveat(now.Add(time.Hour)),
		NewAmountCaveat(big.NewInt(999), now, time.Minute, 3),
		NewAddressCaveat("g.issuer.sub"),
		NewExpiryCaveat(now.Add(30 * time.Minute)),
	}
	for i, c := range steps {
		if err := tok.AddCaveat(c); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := tok.VerifyAt(rootKey, now); err != nil {
			t.Fatalf("step %d: verify: %v", i, err)
		}
	}
}

func TestSingleByteMutationBreaksSignature(t *testing.T) {
	tok, rootKey := newTestToken(t)
	now := time.Now()
	if err := tok.SetAmount(big.NewInt(5000), now, time.Minute, 3); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if err := tok.SetAddress("g.issuer.acct"); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if err := tok.SetExpiry(now.Add(time.Hour)); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	encoded := tok.Bytes()
	caveatBytes := 0
	for _, c := range tok.Caveats() {
		caveatBytes += len(EncodeCaveat(c))
	}
	caveatStart := len(encoded) - caveatBytes

	var offsets []int
	for i := 1; i < 1+SignatureSize; i++ {
		offsets = append(offsets, i)
	}
	for i := caveatStart; i < len(encoded); i++ {
		offsets = append(offsets, i)
	}

	for _, off := range offsets {
		mutated := bytes.Clone(encoded)
		mutated[off] ^= 0x01

		parsed, err := Parse(mutated)
		if err != nil {
			// Structural damage is rejected before verification.
			continue
		}
		if err := parsed.VerifyAt(rootKey, now); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("offset %d: expected ErrInvalidSignature, got %v", off, err)
		}
	}
}

func TestVerifyRejectsWrongRootKey(t *testing.T) {
	tok, _ := newTestToken(t)
	if err := tok.VerifyAt(newRootKey(t), time.Now()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := tok.VerifyAt(nil, time.Now()); !errors.Is(err, ErrEmptyRootKey) {
		t.Fatalf("expected ErrEmptyRootKey, got %v", err)
	}
}

func TestVerifyReportsExpiryAfterSignature(t *testing.T) {
	tok, rootKey := newTestToken(t)
	now := time.Now()
	if err := tok.SetExpiry(now.Add(-time.Second)); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	if err := tok.VerifyAt(rootKey, now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := tok.VerifyAt(newRootKey(t), now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature to win over expiry, got %v", err)
	}
	if err := tok.VerifyAt(rootKey, now.Add(-time.Minute)); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}
}

func TestAmountNarrowing(t *testing.T) {
	tok, _ := newTestToken(t)
	now := time.Now()
	if err := tok.SetAmount(big.NewInt(500), now, time.Minute, 1); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	before := tok.Signature()

	if err := tok.SetAmount(big.NewInt(501), now, time.Minute, 1); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected ErrCaveatWidening, got %v", err)
	}
	if tok.Signature() != before || len(tok.Caveats()) != 1 {
		t.Fatal("rejected caveat mutated the token")
	}

	if err := tok.SetAmount(big.NewInt(500), now, time.Minute, 1); err != nil {
		t.Fatalf("equal amount should be accepted: %v", err)
	}
	if err := tok.SetAmount(big.NewInt(200), now, time.Minute, 1); err != nil {
		t.Fatalf("smaller amount should be accepted: %v", err)
	}
	amount, _ := tok.Effective().Amount()
	if amount.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected effective amount 200, got %s", amount.Amount)
	}

	// Narrowing is measured against the most restrictive value so far.
	if err := tok.SetAmount(big.NewInt(300), now, time.Minute, 1); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected ErrCaveatWidening against most restrictive, got %v", err)
	}
}

func TestAmountScheduleNarrowing(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	amount := big.NewInt(1000)

	rejected := []struct {
		name   string
		caveat *AmountCaveat
	}{
		{"shorter period", NewAmountCaveat(amount, start, time.Millisecond, 1)},
		{"shorter period same end", NewAmountCaveat(amount, start, time.Millisecond, 1_000_000)},
		{"more repetitions", NewAmountCaveat(amount, start, 24*time.Hour, 2)},
		{"earlier start", NewAmountCaveat(amount, start.Add(-time.Hour), 24*time.Hour, 1)},
		{"later end", NewAmountCaveat(amount, start.Add(time.Hour), 24*time.Hour, 1)},
		{"unbounded end", NewAmountCaveat(amount, start, 24*time.Hour, math.MaxUint64)},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			tok, _ := newTestToken(t)
			if err := tok.SetAmount(amount, start, 24*time.Hour, 1); err != nil {
				t.Fatalf("set amount: %v", err)
			}
			before := tok.Signature()
			if err := tok.AddCaveat(tc.caveat); !errors.Is(err, ErrCaveatWidening) {
				t.Fatalf("expected ErrCaveatWidening, got %v", err)
			}
			if tok.Signature() != before {
				t.Fatal("rejected caveat mutated the token")
			}
		})
	}

	tok, _ := newTestToken(t)
	if err := tok.SetAmount(amount, start, time.Hour, 4); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if err := tok.SetAmount(amount, start, time.Hour, 2); err != nil {
		t.Fatalf("fewer repetitions should be accepted: %v", err)
	}
	if err := tok.SetAmount(amount, start.Add(30*time.Minute), 90*time.Minute, 1); err != nil {
		t.Fatalf("later start within the same end should be accepted: %v", err)
	}
	got, _ := tok.Effective().Amount()
	if got.Duration != 90*time.Minute || !got.StartTime.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("unexpected effective schedule %+v", got)
	}
}

func TestUnboundedScheduleAcceptsAnyEnd(t *testing.T) {
	tok, _ := newTestToken(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := tok.SetAmount(big.NewInt(10), start, time.Hour, math.MaxUint64); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if err := tok.SetAmount(big.NewInt(10), start, 2*time.Hour, 10); err != nil {
		t.Fatalf("bounded schedule under an unbounded one should be accepted: %v", err)
	}
}

func TestAddressPrefixNarrowing(t *testing.T) {
	tok, _ := newTestToken(t)
	if err := tok.SetAddress("g.issuer"); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if err := tok.SetAddress("g.other"); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected ErrCaveatWidening, got %v", err)
	}
	if err := tok.SetAddress("g.issuer", "g.other"); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected ErrCaveatWidening for partially widening set, got %v", err)
	}
	if err := tok.SetAddress("g.issuer.suffix"); err != nil {
		t.Fatalf("extending prefix should be accepted: %v", err)
	}

	prefixes, _ := tok.Effective().AddressPrefixes()
	if len(prefixes) != 1 || prefixes[0] != "g.issuer.suffix" {
		t.Fatalf("unexpected effective prefixes %v", prefixes)
	}
	if !tok.AllowsAddress("g.issuer.suffix.abc") || tok.AllowsAddress("g.issuer.other") {
		t.Fatal("address check does not follow effective prefix")
	}
}

func TestExpiryNarrowing(t *testing.T) {
	tok, _ := newTestToken(t)
	base := time.Now().Add(time.Hour)
	if err := tok.SetExpiry(base); err != nil {
		t.Fatalf("set expiry: %v", err)
	}
	if err := tok.SetExpiry(base.Add(time.Minute)); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected later expiry rejected, got %v", err)
	}
	if err := tok.SetExpiry(base); !errors.Is(err, ErrCaveatWidening) {
		t.Fatalf("expected equal expiry rejected, got %v", err)
	}
	earlier := base.Add(-time.Minute)
	if err := tok.SetExpiry(earlier); err != nil {
		t.Fatalf("earlier expiry should be accepted: %v", err)
	}
	got, ok := tok.Effective().Expiry()
	if !ok || !got.Equal(earlier.Truncate(time.Millisecond)) {
		t.Fatalf("expected effective expiry %v, got %v", earlier, got)
	}
}

func TestFromSignatureRejectsWideningHistory(t *testing.T) {
	keyID, _ := NewKeyID()
	now := time.Now()
	_, err := FromSignature(keyID, "", [SignatureSize]byte{}, []Caveat{
		NewAmountCaveat(big.NewInt(100), now, time.Minute, 1),
		NewAmountCaveat(big.NewInt(200), now, time.Minute, 1),
	})
	if !errors.Is(err, ErrInvalidCaveatChain) {
		t.Fatalf("expected ErrInvalidCaveatChain, got %v", err)
	}
}

func TestParseRejectsWideningHistory(t *testing.T) {
	keyID, _ := NewKeyID()

	var w oerWriter
	w.writeByte(Version)
	w.write(make([]byte, SignatureSize))
	w.writeVarBytes([]byte("loc"))
	w.writeVarBytes(keyID)
	w.writeVarUint(2)
	w.write(EncodeCaveat(NewAddressCaveat("g.a.b")))
	w.write(EncodeCaveat(NewAddressCaveat("g.a")))

	if _, err := Parse(w.bytes()); !errors.Is(err, ErrInvalidCaveatChain) {
		t.Fatalf("expected ErrInvalidCaveatChain, got %v", err)
	}
}

func TestParseRejectsWideningSchedule(t *testing.T) {
	keyID, _ := NewKeyID()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	amount := big.NewInt(1000)

	histories := map[string]*AmountCaveat{
		"shorter period":   NewAmountCaveat(amount, start, time.Millisecond, 1_000_000),
		"more repetitions": NewAmountCaveat(amount, start, 24*time.Hour, 3),
		"earlier start":    NewAmountCaveat(amount, start.Add(-time.Minute), 24*time.Hour, 1),
	}
	for name, widened := range histories {
		t.Run(name, func(t *testing.T) {
			var w oerWriter
			w.writeByte(Version)
			w.write(make([]byte, SignatureSize))
			w.writeVarBytes([]byte("loc"))
			w.writeVarBytes(keyID)
			w.writeVarUint(2)
			w.write(EncodeCaveat(NewAmountCaveat(amount, start, 24*time.Hour, 1)))
			w.write(EncodeCaveat(widened))

			if _, err := Parse(w.bytes()); !errors.Is(err, ErrInvalidCaveatChain) {
				t.Fatalf("expected ErrInvalidCaveatChain, got %v", err)
			}
		})
	}
}

func TestParseRejectsStructuralProblems(t *testing.T) {
	tok, _ := newTestToken(t)
	if err := tok.SetAmount(big.NewInt(7), time.Now(), time.Minute, 1); err != nil {
		t.Fatalf("set amount: %v", err)
	}
	valid := tok.Bytes()

	badVersion := bytes.Clone(valid)
	badVersion[0] = 2

	unknown := bytes.Clone(valid)
	// The last caveat's type byte sits right before its framed body.
	last := EncodeCaveat(tok.Caveats()[0])
	unknown[len(unknown)-len(last)] = 9

	longFormShortLength := func() []byte {
		var w oerWriter
		w.writeByte(Version)
		w.write(make([]byte, SignatureSize))
		w.write([]byte{0x81, 0x03})
		w.write([]byte("abc"))
		w.writeVarBytes([]byte{1})
		w.writeVarUint(0)
		return w.bytes()
	}()

	cases := map[string]struct {
		data  []byte
		extra error
	}{
		"empty":             {data: nil},
		"bad version":       {data: badVersion},
		"truncated":         {data: valid[:len(valid)-1]},
		"trailing":          {data: append(bytes.Clone(valid), 0)},
		"unknown caveat":    {data: unknown, extra: ErrUnknownCaveatType},
		"non-canonical len": {data: longFormShortLength},
		"short signature":   {data: valid[:10]},
	}
	for name, tc := range cases {
		_, err := Parse(tc.data)
		if !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s: expected ErrMalformedToken, got %v", name, err)
		}
		if tc.extra != nil && !errors.Is(err, tc.extra) {
			t.Fatalf("%s: expected %v, got %v", name, tc.extra, err)
		}
	}
}

func TestFromRootKeyValidatesInputs(t *testing.T) {
	if _, err := FromRootKey([]byte{1}, "", nil); !errors.Is(err, ErrEmptyRootKey) {
		t.Fatalf("expected ErrEmptyRootKey, got %v", err)
	}
	if _, err := FromRootKey(nil, "", []byte{1}); !errors.Is(err, ErrEmptyKeyID) {
		t.Fatalf("expected ErrEmptyKeyID, got %v", err)
	}
}

func TestHolderAttenuationVerifiesAtIssuer(t *testing.T) {
	issued, rootKey := newTestToken(t)
	now := time.Now()
	if err := issued.SetAmount(big.NewInt(100), now, time.Hour, 24); err != nil {
		t.Fatalf("set amount: %v", err)
	}

	held, err := Parse(issued.Bytes())
	if err != nil {
		t.Fatalf("holder parse: %v", err)
	}
	if err := held.SetAmount(big.NewInt(40), now, time.Hour, 24); err != nil {
		t.Fatalf("holder attenuate: %v", err)
	}
	if err := held.SetAddress("g.holder.wallet"); err != nil {
		t.Fatalf("holder attenuate address: %v", err)
	}

	received, err := Parse(held.Bytes())
	if err != nil {
		t.Fatalf("issuer parse: %v", err)
	}
	if err := received.VerifyAt(rootKey, now); err != nil {
		t.Fatalf("issuer verify: %v", err)
	}
	amount, _ := received.Effective().Amount()
	if amount.Amount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected attenuated amount 40, got %s", amount.Amount)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tok, rootKey := newTestToken(t)
	clone := tok.Clone()
	if err := clone.SetAddress("g.x"); err != nil {
		t.Fatalf("attenuate clone: %v", err)
	}
	if len(tok.Caveats()) != 0 {
		t.Fatal("attenuating the clone changed the original")
	}
	if err := clone.Verify(rootKey); err != nil {
		t.Fatalf("clone verify: %v", err)
	}
}
