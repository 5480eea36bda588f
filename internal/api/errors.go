package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyBaseURL   = errors.New("api base url cannot be empty")
	ErrInvalidRequest = errors.New("invalid request")
)

// APIError is a non-2xx answer from the CRUD service.
type APIError struct {
	StatusCode int
	// Code is the service's error class, e.g. "NotFound" or "ValidationError".
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
