package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("connection closed")

// ErrNotConnected is returned while no WebSocket session is established,
// including during reconnect backoff.
var ErrNotConnected = errors.New("not connected")

// Error wraps everything that goes wrong on the WebSocket channel.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
