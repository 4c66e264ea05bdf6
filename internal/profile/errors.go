package profile

import (
	"errors"
	"fmt"
)

const (
	errMessageNotFound = "profile not found"
	errMessageConflict = "relationship transition rejected"
	errMessageNetwork  = "network failure"
)

var (
	// ErrNotFound indicates the handle has no profile. The cache converts
	// this into a placeholder profile rather than surfacing it.
	ErrNotFound = errors.New(errMessageNotFound)
	// ErrConflict indicates the server rejected a relationship transition,
	// such as following an already-followed identity.
	ErrConflict = errors.New(errMessageConflict)
	// ErrNetwork indicates a connectivity failure talking to the remote API.
	ErrNetwork = errors.New(errMessageNetwork)
)

// FetchError is surfaced by the cache for any profile fetch failure other
// than not-found.
type FetchError struct {
	Handle string
	Err    error
}

func (fetchError *FetchError) Error() string {
	return fmt.Sprintf("fetch profile %q: %v", fetchError.Handle, fetchError.Err)
}

func (fetchError *FetchError) Unwrap() error {
	return fetchError.Err
}

// ValidationError reports a malformed field on a profile edit submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", validationError.Field, validationError.Reason)
}
