// Package rate provides the Redis-backed throttles in front of token exchange.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - xr:: exchange requests per client IP
//   - xf:: failed exchanges (bad token, bad signature) per client IP
//
// # What this package must NOT do
//
//   - Decide whether a token is valid. Callers report failures after verification.
//   - Be imported outside the goPullToken module.
package rate
