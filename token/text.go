package token

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeString returns the bearer form of t: unpadded base64url of the wire encoding.
func (t *Token) EncodeString() string {
	return base64.RawURLEncoding.EncodeToString(t.Bytes())
}

// ParseString decodes a bearer token given as base64url (padded or not), standard
// base64 or hex, then parses the wire encoding.
func ParseString(s string) (*Token, error) {
	raw, err := DecodeText(s)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// DecodeText returns the wire bytes of a bearer token without parsing them.
func DecodeText(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}
	// Every encoded token starts with the version byte 0x01, so hex input always
	// begins with "01"; base64 of 0x01 begins with "A".
	if len(s)%2 == 0 && strings.HasPrefix(s, "01") {
		if raw, err := hex.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: token is neither base64 nor hex", ErrMalformedToken)
}
