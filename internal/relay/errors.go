package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrShuttingDown is returned when a stream is started on a session that is
	// stopping or closed.
	ErrShuttingDown = errors.New("session is shutting down")
	// ErrNoDestination is returned when start or switch is given an empty sink.
	ErrNoDestination = errors.New("destination is required")
	// ErrSpawnFailed wraps transcoder spawn failures.
	ErrSpawnFailed = errors.New("failed to spawn transcoder")
)

// Error is a session failure tied to an action and a destination.
type Error struct {
	Op          string
	Destination string
	Cause       error
}

func (e *Error) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Destination, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
