package trigger

import "errors"

// Ineligibility reasons, reported to hosts as error codes.
const (
	ReasonDisabled         = "TRIGGER_DISABLED"
	ReasonExecuteOnceFired = "EXECUTE_ONCE_ALREADY_FIRED"
)

const (
	MaxNameLength           = 50
	MaxIdempotencyKeyLength = 128
)

var (
	ErrTriggerDisabled         = errors.New("trigger is disabled")
	ErrExecuteOnceAlreadyFired = errors.New("execute-once trigger already fired")
)

var (
	ErrInvalidName           = errors.New("trigger name must be 1-50 characters")
	ErrUnknownCondition      = errors.New("unknown trigger condition type")
	ErrNoActions             = errors.New("trigger must have at least one action")
	ErrUnknownAction         = errors.New("unknown trigger action type")
	ErrInvalidDuration       = errors.New("action duration must be positive")
	ErrMissingMessage        = errors.New("send_message action requires a message")
	ErrMissingVariant        = errors.New("reveal_artifact action requires a variant id")
	ErrNegativeDelay         = errors.New("trigger delay cannot be negative")
	ErrInvalidIdempotencyKey = errors.New("idempotency key must be 1-128 printable characters")
)
