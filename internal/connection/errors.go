package connection

import "errors"

var (
	ErrNotConnected   = errors.New("channel is not connected")
	ErrEmptySessionID = errors.New("session id cannot be empty")
	ErrNoSession      = errors.New("no session to reconnect to")
	ErrClosed         = errors.New("connection manager is closed")
)
