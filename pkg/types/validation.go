package types

import (
	"regexp"
	"unicode/utf8"
)

var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks that the identity can be used on a channel endpoint.
func (u UserIdentity) Validate() error {
	if n := utf8.RuneCountInString(u.Name); n < 1 || n > 100 {
		return ErrInvalidName
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

// Valid reports whether r is one of the two participant roles.
func (r Role) Valid() bool {
	return r == RoleInterviewer || r == RoleCandidate
}

// Valid reports whether d is a known difficulty level.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyJunior, DifficultyMiddle, DifficultySenior:
		return true
	default:
		return false
	}
}

// IsValidSessionID checks the ID is safe to place in a URL path segment.
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > 100 {
		return false
	}
	return sessionIDRegex.MatchString(id)
}
