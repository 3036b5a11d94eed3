// Package ledger keeps the Redis-side record of token exchanges.
//
// Two structures live under one key prefix:
//
//   - <prefix>:claim:<token id>: a single-use marker written with SET NX when a token is
//     exchanged. A second exchange of the same token finds the marker and fails.
//   - <prefix>:events: a capped stream of CBOR-encoded entries, one per audit event.
//
// Budget records are never written here. A restarted process starts with no budgets even
// though its claims survive.
package ledger
