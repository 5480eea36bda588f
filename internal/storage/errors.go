package storage

import "errors"

var (
	ErrNotFound      = errors.New("storage slot is empty")
	ErrBackendClosed = errors.New("storage backend is closed")
	ErrEmptyKey      = errors.New("storage key cannot be empty")
	ErrWriteTimeout  = errors.New("storage write timed out")
)
