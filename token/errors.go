package token

import "errors"

var (
	// ErrMalformedToken reports a structural decode failure of the token envelope.
	ErrMalformedToken = errors.New("malformed token")
	// ErrMalformedCaveat reports a caveat body that cannot be fully and canonically decoded.
	ErrMalformedCaveat = errors.New("malformed caveat")
	// ErrUnknownCaveatType reports a caveat type tag this package does not implement.
	ErrUnknownCaveatType = errors.New("unknown caveat type")
	// ErrCaveatWidening reports an attempt to add a caveat that relaxes the token.
	ErrCaveatWidening = errors.New("caveat widens token authority")
	// ErrInvalidCaveatChain reports a decoded caveat history that violates narrowing.
	ErrInvalidCaveatChain = errors.New("invalid caveat chain")
	// ErrInvalidSignature reports a signature chain mismatch during verification.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired reports a correctly signed token whose expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrEmptyRootKey is returned when a root key is required but empty.
	ErrEmptyRootKey = errors.New("empty root key")
	// ErrEmptyKeyID is returned when a token is built without a key identifier.
	ErrEmptyKeyID = errors.New("empty key id")
)
