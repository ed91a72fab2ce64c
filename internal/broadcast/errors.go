package broadcast

import "errors"

var (
	ErrRedisAddrRequired = errors.New("redis address is required")
	ErrBridgeRunning     = errors.New("redis bridge is already running")
	ErrInvalidChannel    = errors.New("not a session broadcast channel")
)
