package interfaces

import "errors"

// Common store errors used across components
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrUnauthenticated = errors.New("authentication required")
)
