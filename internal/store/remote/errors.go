package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the user has no record for the key. It is an
	// expected outcome, not a failure.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthenticated means no valid session is available.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNotConfigured means the remote URL or API key is missing.
	ErrNotConfigured = errors.New("remote store not configured")
)

// codeNoRows is the PostgREST error code for a single-object request that
// matched zero rows.
const codeNoRows = "PGRST116"

// APIError is a non-2xx response from the remote store.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote store: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote store: %d %s", e.Status, http.StatusText(e.Status))
}

// NotFound reports whether the response means "no such row". PostgREST
// answers single-object lookups with 406 and code PGRST116 when nothing
// matched; either marker is enough.
func (e *APIError) NotFound() bool {
	return e.Code == codeNoRows || e.Status == http.StatusNotAcceptable
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an absent-record outcome.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
