package vercel

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized reports an invalid or insufficiently scoped token.
	ErrUnauthorized = errors.New("vercel: unauthorized")
	// ErrNotFound reports a project or deployment that does not exist.
	ErrNotFound = errors.New("vercel: not found")
	// ErrNetwork reports a transport failure or a transient server-side error.
	ErrNetwork = errors.New("vercel: network failure")
	// ErrNoDeployments is returned when a project has never been deployed.
	ErrNoDeployments = errors.New("vercel: no deployments")
)

// APIError represents an error response from the deploy API.
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("vercel request failed with status %d", e.Status)
	}
	return fmt.Sprintf("vercel request failed (%d): %s", e.Status, e.Message)
}

// Unwrap exposes the error kind so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	return e.kind
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return ErrNetwork
	default:
		return nil
	}
}
