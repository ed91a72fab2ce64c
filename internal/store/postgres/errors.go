package postgres

import "errors"

var ErrUnknownAction = errors.New("unknown trigger action")
