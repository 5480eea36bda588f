package session

import "errors"

var (
	ErrNoSession    = errors.New("no session is loaded")
	ErrNoUser       = errors.New("no participant identity is loaded")
	ErrSessionEnded = errors.New("session has ended")
)
