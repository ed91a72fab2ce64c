package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"playsession/pkg/interfaces"
)

// Authorization and lookup errors share the store's sentinels so callers can
// match either with errors.Is.
var (
	ErrUnauthenticated = interfaces.ErrUnauthenticated
	ErrForbidden       = interfaces.ErrUnauthorized
	ErrNotFound        = interfaces.ErrNotFound
	ErrSessionNotFound = interfaces.ErrSessionNotFound
)

var (
	ErrSessionNotMutable  = errors.New("session no longer accepts changes")
	ErrNoActiveTimer      = errors.New("no active timer")
	ErrInvalidIndex       = errors.New("index must be a non-negative integer")
	ErrInvalidDuration    = errors.New("duration_seconds must be a positive integer")
	ErrEmptyBoardUpdate   = errors.New("message or overrides is required")
	ErrUnknownAction      = errors.New("unknown action")
	ErrUnknownTrigger     = errors.New("trigger not found in game")
	ErrUnknownVariant     = errors.New("artifact variant not found in game")
	ErrNoAssignment       = errors.New("no role assigned")
	ErrSecretsLocked      = errors.New("secret instructions are locked")
	ErrInvalidAssignments = errors.New("assignments reference unknown participants or roles")
	ErrCodeExhausted      = errors.New("could not allocate a unique session code")
	ErrInvalidEvent       = errors.New("unknown runtime event type")
	ErrTooManyAttempts    = errors.New("too many wrong codes")
)

// Conflict codes returned to clients.
const (
	ConflictSecretsUnassigned = "SECRETS_ROLES_UNASSIGNED"
	ConflictSecretsRevealed   = "SECRETS_ALREADY_REVEALED"
	ConflictInvalidTransition = "INVALID_STATUS_TRANSITION"
	ConflictSessionEnded      = "SESSION_NOT_MUTABLE"
)

// ConflictError is a precondition the caller can resolve and retry. Details
// carries the diagnostic state needed to explain the remediation.
type ConflictError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Is makes every session-not-mutable conflict match ErrSessionNotMutable.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSessionNotMutable && e.Code == ConflictSessionEnded
}

// ValidationError is bad input. Resubmitting the same request fails again.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AttemptsError rejects a keypad entry until RetryAfter has passed.
type AttemptsError struct {
	RetryAfter time.Duration
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%v, retry in %s", ErrTooManyAttempts, e.RetryAfter.Round(time.Second))
}

func (e *AttemptsError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func notMutable(status string) error {
	return &ConflictError{
		Code:    ConflictSessionEnded,
		Message: fmt.Sprintf("session is %s", status),
		Details: map[string]any{"status": status},
	}
}

func invalidAssignments(ids []string) error {
	return invalid("assignments", fmt.Errorf("%w: %s", ErrInvalidAssignments, strings.Join(ids, ", ")))
}
