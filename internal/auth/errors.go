package auth

import "errors"

var (
	ErrInvalidToken          = errors.New("invalid or expired token")
	ErrSecretRequired        = errors.New("jwt secret must be at least 16 bytes")
	ErrParticipantTokenUsage = errors.New("participant token requires a session")
)
