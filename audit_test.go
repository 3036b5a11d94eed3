package goPullToken

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func auditTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

// collectEvents reads from sink until want events arrive or the timeout passes.
func collectEvents(t *testing.T, sink *ChannelSink, want int) []AuditEvent {
	t.Helper()
	events := make([]AuditEvent, 0, want)
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("expected %d audit events, got %d", want, len(events))
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	e, _ := buildTestEngine(t, engineOptions{sink: sink})

	tok := mustIssue(t, e, IssueRequest{Amount: big.NewInt(10)})
	mustExchange(t, e, tok)
	e.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditExchangeLifecycleEvents(t *testing.T) {
	cfg := auditTestConfig()
	sink := NewChannelSink(64)
	e, _ := buildTestEngine(t, engineOptions{cfg: &cfg, sink: sink})
	ctx := WithClientIP(context.Background(), "198.51.100.33")

	tok := mustIssue(t, e, IssueRequest{Amount: big.NewInt(10), Period: time.Minute})
	res, err := e.Exchange(ctx, ExchangeRequest{Token: tok.Bytes()})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, err := e.Exchange(ctx, ExchangeRequest{Token: tok.Bytes()}); !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	stream := newTestStream()
	connID, err := e.Attach(ConnectionInfo{Tag: res.TokenID}, stream)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_, _ = e.HandleSpend(stream.send(connID, 25))
	if err := e.Release(ctx, res.TokenID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	events := collectEvents(t, sink, 6)
	wantTypes := []string{
		auditEventIssueSuccess,
		auditEventExchangeSuccess,
		auditEventExchangeDuplicate,
		auditEventStreamAttached,
		auditEventOverBudget,
		auditEventTokenReleased,
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].EventType)
		}
		if events[i].ID == "" || !events[i].Timestamp.Equal(epoch) {
			t.Fatalf("event %d: missing id or clock timestamp: %+v", i, events[i])
		}
	}

	exchanged := events[1]
	if exchanged.TokenID != tok.ID() || exchanged.IP != "198.51.100.33" || !exchanged.Success {
		t.Fatalf("unexpected exchange event %+v", exchanged)
	}
	if events[2].Error != string(auditErrDuplicate) {
		t.Fatalf("expected duplicate error code, got %q", events[2].Error)
	}
	if events[4].ConnectionID != connID || events[4].Metadata["amount"] != "25" {
		t.Fatalf("unexpected over-budget event %+v", events[4])
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := auditTestConfig()
	sink := NewChannelSink(64)
	e, _ := buildTestEngine(t, engineOptions{cfg: &cfg, sink: sink})
	ctx := context.Background()

	tok := mustIssue(t, e, IssueRequest{Amount: big.NewInt(10), Address: "g.alice"})
	res := mustExchange(t, e, tok)
	if _, err := e.Attach(ConnectionInfo{Tag: res.TokenID, DestinationAccount: "g.bob"}, newTestStream()); err == nil {
		t.Fatal("expected attach to be rejected")
	}
	bad := tok.Bytes()
	bad[1] ^= 0xff
	_, _ = e.Exchange(ctx, ExchangeRequest{Token: bad})

	sig := tok.Signature()
	needles := []string{
		tok.EncodeString(),
		base64.StdEncoding.EncodeToString(res.SharedSecret),
		fmt.Sprintf("%x", res.SharedSecret),
		fmt.Sprintf("%x", sig[:]),
		res.DestinationAccount,
	}

	for _, ev := range collectEvents(t, sink, 4) {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in audit error of %s", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in audit metadata of %s", ev.EventType)
				}
			}
		}
	}
}

func TestAuditToLedgerStream(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	cfg := auditTestConfig()
	cfg.Ledger.AuditToStream = true
	sink := &countingSink{}
	e, _ := buildTestEngine(t, engineOptions{cfg: &cfg, redis: rdb, sink: sink})

	tok := mustIssue(t, e, IssueRequest{Amount: big.NewInt(10)})
	mustExchange(t, e, tok)
	e.Close()

	entries, err := e.ledger.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Kind != auditEventExchangeSuccess || entries[0].TokenID != tok.ID() {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
	if sink.Count() != 2 {
		t.Fatalf("expected the configured sink to see both events, got %d", sink.Count())
	}
}

func TestAuditBufferFullDropsWithoutBlocking(t *testing.T) {
	cfg := auditTestConfig()
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true
	gate := make(chan struct{})
	sink := gateSink(gate)
	e, _ := buildTestEngine(t, engineOptions{cfg: &cfg, sink: sink})
	defer close(gate)

	start := time.Now()
	for i := 0; i < 5; i++ {
		mustIssue(t, e, IssueRequest{Amount: big.NewInt(1)})
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected issue to not block on a full audit queue")
	}
	if e.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
}

type gateSink chan struct{}

func (g gateSink) Emit(context.Context, AuditEvent) { <-g }

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: epoch,
		EventType: auditEventExchangeSuccess,
		TokenID:   "abcd",
		IP:        "127.0.0.1",
		Success:   true,
	})

	if !buf.Contains(`"event_type":"exchange_success"`) {
		t.Fatal("expected JSON line to contain event type")
	}
	if !buf.Contains(`"token_id":"abcd"`) {
		t.Fatal("expected JSON line to contain token id")
	}
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrMalformedToken), auditErrMalformedToken},
		{ErrInvalidCaveatChain, auditErrMalformedToken},
		{ErrInvalidSignature, auditErrInvalidToken},
		{ErrExpired, auditErrExpired},
		{ErrAmountCaveatRequired, auditErrAmountRequired},
		{ErrAddressNotAllowed, auditErrAddressDenied},
		{ErrExchangeRateLimited, auditErrRateLimited},
		{ErrDuplicateRegistration, auditErrDuplicate},
		{ErrOverBudget, auditErrOverBudget},
		{ErrUnknownConnection, auditErrUnknownToken},
		{ErrStreamAttached, auditErrStreamAttached},
		{ErrInvalidIssueRequest, auditErrInvalidRequest},
		{ErrLedgerUnavailable, auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
