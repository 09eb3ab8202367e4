package app

import "errors"

var (
	// ErrValidation marks a request the caller can fix.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an operation the caller is not allowed to perform.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a missing conversation or message.
	ErrNotFound = errors.New("not found")
)
