package crawler

import (
	"errors"
	"fmt"
)

// Configuration and lifecycle errors.
var (
	ErrInvalidUID     = errors.New("uid must be a non-empty numeric string")
	ErrNoSections     = errors.New("at least one section is required")
	ErrAlreadyRunning = errors.New("crawl already running")
	ErrNotRunning     = errors.New("no crawl running")
)

// ErrSessionExpired is returned when a response lands on the login flow.
var ErrSessionExpired = errors.New("session expired")

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// StatusCode extracts the HTTP status from err, or 0 if it carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
