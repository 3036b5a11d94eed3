// Package token implements bearer capability tokens for pull payments: a random key
// identifier, an HMAC-SHA256 signature chain, and an ordered list of caveats that can only
// narrow what the token authorizes.
//
// # Wire format
//
// Tokens use a canonical binary encoding (version byte, 32-byte signature, length-prefixed
// location and key identifier, then the caveat list). Variable-width integers and byte
// strings follow OER length-determinant rules and the decoder rejects any non-minimal form,
// so a decoded token always re-encodes to the same bytes.
//
// # Caveat kinds
//
// Amount caveats are tagged 1 and address caveats 2, matching other token
// implementations. Expiry caveats use tag 3, which is an extension: a peer that only knows
// tags 1 and 2 rejects any token carrying an expiry as an unknown caveat type. Issue
// without an expiry when tokens must be readable by such peers.
//
// # Signature chain
//
//	sig0 = HMAC-SHA256(rootKey, keyID)
//	sigN = HMAC-SHA256(sigN-1, EncodeCaveat(caveatN))
//
// Any holder can append a caveat without the root key. Only a party that can derive the
// root key from the key identifier can verify the chain.
//
// # What this package must NOT do
//
//   - Derive root keys or know about master secrets (callers pass the root key in).
//   - Track spending; amount caveats are data here, enforcement lives in the engine.
//   - Accept caveat kinds it cannot interpret.
package token
