package exchange

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goPullToken "github.com/MrEthical07/goPullToken"
	"github.com/MrEthical07/goPullToken/token"
)

func newHandlerTest(t *testing.T) (*goPullToken.Engine, http.Handler, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := goPullToken.DefaultConfig()
	cfg.Exchange.MaxFailedExchanges = 2
	engine, err := goPullToken.New().
		WithConfig(cfg).
		WithMasterSecret([]byte("0123456789abcdef0123456789abcdef")).
		WithRedis(rdb).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	h := Handler(engine, WithClientIP(func(r *http.Request) string {
		return r.Header.Get("X-Test-IP")
	}))
	return engine, h, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

func issue(t *testing.T, engine *goPullToken.Engine) *token.Token {
	t.Helper()
	tok, err := engine.Issue(context.Background(), goPullToken.IssueRequest{
		Amount: big.NewInt(1000),
		Period: time.Hour,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func post(h http.Handler, ip, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("X-Test-IP", ip)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestExchangeThenDuplicate(t *testing.T) {
	engine, h, done := newHandlerTest(t)
	defer done()
	tok := issue(t, engine)

	rec := post(h, "10.0.0.1", tok.EncodeString(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TokenID != tok.ID() {
		t.Fatalf("expected token id %s, got %s", tok.ID(), resp.TokenID)
	}
	if !strings.HasPrefix(resp.DestinationAccount, "private.pulltoken.") {
		t.Fatalf("unexpected destination %q", resp.DestinationAccount)
	}
	secret, err := base64.StdEncoding.DecodeString(resp.SharedSecret)
	if err != nil || len(secret) != 32 {
		t.Fatalf("expected 32-byte base64 secret, got %q (%v)", resp.SharedSecret, err)
	}

	rec = post(h, "10.0.0.1", tok.EncodeString(), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second exchange, got %d", rec.Code)
	}
}

func TestJSONBodyWithHexMacaroon(t *testing.T) {
	engine, h, done := newHandlerTest(t)
	defer done()
	tok := issue(t, engine)

	body := fmt.Sprintf(`{"macaroon":%q}`, hex.EncodeToString(tok.Bytes()))
	rec := post(h, "10.0.0.2", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTamperedTokenThenThrottle(t *testing.T) {
	engine, h, done := newHandlerTest(t)
	defer done()
	tok := issue(t, engine)

	raw := tok.Bytes()
	raw[1] ^= 0xff
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	for i := 0; i < 3; i++ {
		rec := post(h, "10.0.0.3", tampered, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec := post(h, "10.0.0.3", tok.EncodeString(), "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", rec.Code)
	}

	rec = post(h, "10.0.0.4", tok.EncodeString(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("other IP must still exchange, got %d", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	_, h, done := newHandlerTest(t)
	defer done()

	if rec := post(h, "10.0.0.5", "", "not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}
	if rec := post(h, "10.0.0.5", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", rec.Code)
	}
	if rec := post(h, "10.0.0.6", "AAAA", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

type failingExchanger struct {
	err error
}

func (f failingExchanger) ExchangeString(context.Context, string, string) (goPullToken.ExchangeResult, error) {
	return goPullToken.ExchangeResult{}, f.err
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{goPullToken.ErrMalformedToken, http.StatusBadRequest},
		{goPullToken.ErrAmountCaveatRequired, http.StatusBadRequest},
		{goPullToken.ErrInvalidSignature, http.StatusUnauthorized},
		{goPullToken.ErrExpired, http.StatusUnauthorized},
		{fmt.Errorf("%w: abc", goPullToken.ErrDuplicateRegistration), http.StatusConflict},
		{goPullToken.ErrExchangeRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: dial tcp", goPullToken.ErrLedgerUnavailable), http.StatusServiceUnavailable},
		{goPullToken.ErrEngineNotReady, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := post(Handler(failingExchanger{err: tc.err}), "", "tok", "")
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
