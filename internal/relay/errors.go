package relay

import "errors"

// Peer errors
var (
	ErrPeerClosed   = errors.New("peer connection closed")
	ErrWriteTimeout = errors.New("peer write timed out")
	ErrInvalidJSON  = errors.New("invalid JSON data")
)

// Registry and room errors
var (
	ErrNilPeer          = errors.New("peer cannot be nil")
	ErrSessionEnded     = errors.New("session has ended")
	ErrInvalidSessionID = errors.New("invalid session id")
)
