package hub

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized indicates the token was missing or rejected.
	ErrUnauthorized = errors.New("hub unauthorized")
	// ErrNotFound indicates the referenced Space does not exist.
	ErrNotFound = errors.New("hub resource not found")
	// ErrConflict indicates the resource already exists.
	ErrConflict = errors.New("hub resource already exists")
)

// APIError is a non-2xx platform response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub request failed with status %d", e.Status)
	}
	return fmt.Sprintf("hub request failed (%d): %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}
