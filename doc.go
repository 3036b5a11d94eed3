// Package goPullToken issues pull-payment capability tokens and enforces the sending
// budget they grant.
//
// A token is a macaroon-style HMAC chain (see package token) that any holder may narrow
// offline. The issuer exchanges a verified token for stream credentials and then meters
// the payment stream the client opens: every spend and every window boundary produces a
// new cumulative send ceiling for the transport.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goPullToken is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (ExchangeResult, BudgetRecord, MetricsSnapshot). Budget tracking, ceiling
// scheduling, key derivation, stream credentials, throttling and audit dispatch live
// under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or derived keys in its public API.
//   - Restore budgets from storage. A restarted engine starts with no budgets.
//   - Import any sub-package that re-imports goPullToken (no import cycles).
//
// # Performance contract
//
// HandleSpend is the hot path. It takes one lane lock and performs no I/O. Exchange is
// allowed a bounded number of Redis round-trips (throttle, claim) per call.
package goPullToken
