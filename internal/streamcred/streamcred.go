// Package streamcred generates the destination address and shared secret handed to a
// client that exchanged a token. The token identifier travels as the connection tag, so
// the transport can map an incoming connection back to its budget.
//
// A destination has the form base.nonce~tag. The shared secret is
// HMAC-SHA256(serverSecret, nonce), so nothing needs to be stored per credential.
package streamcred

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const nonceSize = 18

var (
	// ErrInvalidTag is returned when a destination's connection tag fails authentication.
	ErrInvalidTag = errors.New("invalid connection tag")
	// ErrInvalidDestination is returned for addresses outside the generator's base.
	ErrInvalidDestination = errors.New("invalid destination address")
	// ErrInvalidConfig is returned by New for a bad base address or empty secret.
	ErrInvalidConfig = errors.New("invalid stream credential config")
)

// Credentials is what the client needs to open a stream.
type Credentials struct {
	DestinationAccount string
	SharedSecret       []byte
}

// Generator derives credentials under one base address.
type Generator struct {
	base   string
	secret []byte
}

// NewGenerator returns a generator for destinations under base.
func NewGenerator(base string, serverSecret []byte) (*Generator, error) {
	switch {
	case base == "" || strings.HasSuffix(base, "."):
		return nil, fmt.Errorf("%w: base address %q", ErrInvalidConfig, base)
	case len(serverSecret) == 0:
		return nil, fmt.Errorf("%w: empty server secret", ErrInvalidConfig)
	}
	return &Generator{base: base, secret: append([]byte(nil), serverSecret...)}, nil
}

// Generate returns fresh credentials carrying tag.
func (g *Generator) Generate(tag string) (Credentials, error) {
	if err := validateTag(tag); err != nil {
		return Credentials{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Credentials{}, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(nonce)

	return Credentials{
		DestinationAccount: g.base + "." + encoded + "~" + tag,
		SharedSecret:       g.sharedSecret(nonce),
	}, nil
}

// Parse recovers the tag and shared secret from a destination this generator produced.
func (g *Generator) Parse(destination string) (tag string, sharedSecret []byte, err error) {
	rest, ok := strings.CutPrefix(destination, g.base+".")
	if !ok {
		return "", nil, fmt.Errorf("%w: not under %s", ErrInvalidDestination, g.base)
	}
	// Anything the client appended after the credential segment is ignored.
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	encoded, tag, ok := strings.Cut(rest, "~")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing connection tag", ErrInvalidDestination)
	}
	nonce, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(nonce) != nonceSize {
		return "", nil, fmt.Errorf("%w: bad nonce", ErrInvalidDestination)
	}
	if err := validateTag(tag); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidDestination, err)
	}
	return tag, g.sharedSecret(nonce), nil
}

func (g *Generator) sharedSecret(nonce []byte) []byte {
	h := hmac.New(sha256.New, g.secret)
	h.Write(nonce)
	return h.Sum(nil)
}

func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTag)
	}
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: character %q", ErrInvalidTag, c)
		}
	}
	return nil
}
