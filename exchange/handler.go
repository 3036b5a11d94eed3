package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	goPullToken "github.com/MrEthical07/goPullToken"
)

// MaxBodySize bounds the JSON request body.
const MaxBodySize = 16 << 10

// Exchanger is the part of [goPullToken.Engine] the handler needs.
type Exchanger interface {
	ExchangeString(ctx context.Context, bearer, clientIP string) (goPullToken.ExchangeResult, error)
}

// Response is the JSON body of a successful exchange.
type Response struct {
	TokenID            string `json:"token_id"`
	DestinationAccount string `json:"destination_account"`
	SharedSecret       string `json:"shared_secret"`
}

type request struct {
	Token    string `json:"token"`
	Macaroon string `json:"macaroon"`
}

// Option configures the handler.
type Option func(*handler)

// WithClientIP replaces how the caller's IP is taken from a request. The default uses
// the host part of RemoteAddr.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(h *handler) {
		if fn != nil {
			h.clientIP = fn
		}
	}
}

type handler struct {
	exchanger Exchanger
	clientIP  func(*http.Request) string
}

// Handler serves POST exchanges. The token is read from "Authorization: Bearer" or from
// a JSON body {"token": "..."}; "macaroon" is accepted as an alias. Base64 and hex are
// both understood.
func Handler(exchanger Exchanger, opts ...Option) http.Handler {
	h := &handler{
		exchanger: exchanger,
		clientIP:  remoteIP,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.exchanger == nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	bearer, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		var body request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		bearer = body.Token
		if bearer == "" {
			bearer = body.Macaroon
		}
		if bearer == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
	}

	res, err := h.exchanger.ExchangeString(r.Context(), bearer, h.clientIP(r))
	if err != nil {
		status := StatusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(Response{
		TokenID:            res.TokenID,
		DestinationAccount: res.DestinationAccount,
		SharedSecret:       base64.StdEncoding.EncodeToString(res.SharedSecret),
	})
}

// StatusFor maps an exchange error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, goPullToken.ErrMalformedToken),
		errors.Is(err, goPullToken.ErrMalformedCaveat),
		errors.Is(err, goPullToken.ErrUnknownCaveatType),
		errors.Is(err, goPullToken.ErrInvalidCaveatChain),
		errors.Is(err, goPullToken.ErrAmountCaveatRequired):
		return http.StatusBadRequest
	case errors.Is(err, goPullToken.ErrInvalidSignature),
		errors.Is(err, goPullToken.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, goPullToken.ErrDuplicateRegistration):
		return http.StatusConflict
	case errors.Is(err, goPullToken.ErrExchangeRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goPullToken.ErrLedgerUnavailable),
		errors.Is(err, goPullToken.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
