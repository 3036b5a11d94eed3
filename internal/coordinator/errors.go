package coordinator

import "errors"

var (
	// ErrStreamAttached is returned when a token already has a live stream.
	ErrStreamAttached = errors.New("token already has an attached stream")
	// ErrUnknownConnection is returned for a connection id with no attached stream.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNilStream is returned when Attach is given a nil stream.
	ErrNilStream = errors.New("stream is nil")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("coordinator closed")
)
