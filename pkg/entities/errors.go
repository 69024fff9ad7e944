package entities

import "errors"

var (
	ErrNetwork           = errors.New("network error")
	ErrAuthRequired      = errors.New("authentication required")
	ErrConflict          = errors.New("stale version conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrMediaDecode       = errors.New("media decode failure")
	ErrMalformedEntity   = errors.New("malformed entity payload")
	ErrNotFound          = errors.New("entity not found")
)

// Retryable reports whether the caller may safely retry the failed
// operation. Only transient network failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
