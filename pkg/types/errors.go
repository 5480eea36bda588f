package types

import "errors"

var (
	ErrInvalidRole         = errors.New("role must be 'interviewer' or 'candidate'")
	ErrInvalidName         = errors.New("name must be 1-100 characters")
	ErrInvalidSessionID    = errors.New("session ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDifficulty   = errors.New("difficulty must be junior, middle or senior")
	ErrInvalidProblemCount = errors.New("number of problems must be between 1 and 5")
	ErrMissingType         = errors.New("envelope has no type")
	ErrInvalidEnvelope     = errors.New("envelope is not a JSON object")
)
