package types

import "errors"

// Validation errors for domain types.
var (
	ErrInvalidUserID        = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionStatus = errors.New("invalid session status")
	ErrInvalidSessionCode   = errors.New("session code must be 6 uppercase letters or digits")
	ErrInvalidTitle         = errors.New("title must be 1-200 characters")
	ErrBodyTooLarge         = errors.New("body exceeds 10000 characters")
	ErrInvalidOutcomeType   = errors.New("outcome type must be at most 50 characters")
	ErrInvalidOptions       = errors.New("decision options must be 0-20 non-empty strings")
	ErrInvalidDisplayName   = errors.New("display name must be 1-50 characters")
	ErrMessageTooLong       = errors.New("board message exceeds 1000 characters")
	ErrInvalidGame          = errors.New("invalid game configuration")
	ErrInvalidVisibility    = errors.New("invalid artifact visibility")
)
