package models

import (
	"errors"
	"fmt"
)

// Domain errors shared by repositories, services and the HTTP layer.
var (
	// ErrNotFound indicates a referenced document or insight does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an identifier is already taken.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates a malformed candidate or request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvider indicates the embedding or language model service failed.
	ErrProvider = errors.New("provider error")
)

// ProviderError describes a failed call to an external AI provider.
// It matches ErrProvider with errors.Is.
type ProviderError struct {
	Op         string // "embed", "chat"
	StatusCode int    // HTTP status when the provider answered, 0 otherwise
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// NewProviderError wraps err as a ProviderError for the given operation.
func NewProviderError(op string, statusCode int, err error) *ProviderError {
	return &ProviderError{Op: op, StatusCode: statusCode, Err: err}
}
