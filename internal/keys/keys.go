// Package keys derives every secret the engine uses from one master secret.
//
// Derivation is HKDF-SHA256 with a fixed info string per purpose. Changing an info string
// invalidates every token or stream credential issued under it.
package keys

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of every derived key.
const KeySize = 32

// MinMasterSize is the shortest master secret NewKeyring accepts.
const MinMasterSize = 16

var (
	// ErrShortMaster is returned when the master secret is under MinMasterSize bytes.
	ErrShortMaster = errors.New("master secret too short")
	// ErrEmptyKeyID is returned when a root key is requested for an empty key id.
	ErrEmptyKeyID = errors.New("key id is empty")
)

var (
	infoTokenSigning = []byte("pulltoken.token.signing.v1")
	infoStreamServer = []byte("pulltoken.stream.server.v1")
	infoTokenRoot    = []byte("pulltoken.token.root.v1")
)

// Derive expands ikm into size bytes of key material bound to info.
func Derive(ikm, info []byte, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, nil, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf derivation failed: %w", err)
	}
	return out, nil
}

// Keyring holds the purpose keys derived from a master secret.
type Keyring struct {
	signing []byte
	stream  []byte
}

// NewKeyring derives the signing and stream-server keys from master. The master slice is
// not retained.
func NewKeyring(master []byte) (*Keyring, error) {
	if len(master) < MinMasterSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrShortMaster, MinMasterSize, len(master))
	}

	signing, err := Derive(master, infoTokenSigning, KeySize)
	if err != nil {
		return nil, err
	}
	stream, err := Derive(master, infoStreamServer, KeySize)
	if err != nil {
		return nil, err
	}
	return &Keyring{signing: signing, stream: stream}, nil
}

// RootKey returns the root key of the token identified by keyID.
func (k *Keyring) RootKey(keyID []byte) ([]byte, error) {
	if len(keyID) == 0 {
		return nil, ErrEmptyKeyID
	}
	info := make([]byte, 0, len(infoTokenRoot)+len(keyID))
	info = append(info, infoTokenRoot...)
	info = append(info, keyID...)
	return Derive(k.signing, info, KeySize)
}

// StreamSecret returns a copy of the stream server secret.
func (k *Keyring) StreamSecret() []byte {
	return bytes.Clone(k.stream)
}
