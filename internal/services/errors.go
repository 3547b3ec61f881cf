package services

import "errors"

// Closed error taxonomy for the auth core. Handlers translate these into
// generic HTTP responses; the specific kind is for logging and tests only and
// is never echoed to an unauthenticated caller.
var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("already exists")
	ErrExternalService  = errors.New("external service failure")
)
