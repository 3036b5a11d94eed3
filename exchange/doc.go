// Package exchange serves the token exchange endpoint over HTTP.
//
// A client POSTs a pull token and receives the destination account and shared secret
// for the payment stream that will pull from it:
//
//	POST /  Authorization: Bearer <token>
//	200 {"token_id": "...", "destination_account": "...", "shared_secret": "<base64>"}
//
// The shared secret is standard base64 with padding. Servers that return it hex-encoded
// exist, so a client written against one of those must switch decoders.
//
// Error statuses: 400 malformed token, 401 bad signature or expired, 409 already
// exchanged, 429 throttled, 503 backend unavailable.
package exchange
