package rate

import "errors"

var (
	// ErrRateLimited is returned once a counter passes its window maximum.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
