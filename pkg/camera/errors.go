package camera

import (
	"fmt"
	"time"

	"github.com/ethan/nanit-relay/pkg/protocol"
)

// RequestTimeoutError means the camera did not answer a request within the
// round-trip budget. The request may still have been applied.
type RequestTimeoutError struct {
	RequestType protocol.RequestType
	RequestID   uint32
	Timeout     time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("camera: request %s (id %d) timed out after %s", e.RequestType, e.RequestID, e.Timeout)
}

// UnavailableError means the camera could not be reached on any transport.
type UnavailableError struct {
	CameraUID string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("camera: %s unavailable: %v", e.CameraUID, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
