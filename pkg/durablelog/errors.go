package durablelog

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState is an invariant violation and is never retried.
	ErrIllegalState = errors.New("illegal state")

	ErrNotValidTruncationPoint = fmt.Errorf("%w: not a valid truncation point", ErrInvalidArgument)

	ErrClosed     = errors.New("durable log is closed")
	ErrNotStarted = errors.New("durable log is not started")
	ErrCorrupt    = errors.New("corrupt data frame")
)
