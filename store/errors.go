package store

import "errors"

// Error Handling Guidelines:
// - Stores: wrap with fmt.Errorf("context: %w", err) so callers can errors.Is the sentinels below
// - Handlers: translate to apperrors.* for HTTP responses

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates that the caller may not touch the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a conflict, e.g., a duplicate notification id.
	ErrConflict = errors.New("conflict")

	// ErrInvalidFilter indicates a read filter that selects nothing sensible.
	ErrInvalidFilter = errors.New("invalid read filter")
)
