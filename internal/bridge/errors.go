package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CodeTimeout tags requests that saw no response before their deadline.
const CodeTimeout = "TIMEOUT"

// CodeVersionMismatch is sent in an error envelope when a handshake:init
// carries an incompatible protocol version.
const CodeVersionMismatch = "VERSION_MISMATCH"

var (
	// ErrTimeout is matched by errors.Is for every TimeoutError.
	ErrTimeout = errors.New("request timeout")
	// ErrDisposed is returned by Request once the bridge has been disposed.
	ErrDisposed = errors.New("bridge disposed")
)

// TimeoutError reports that no response arrived for Op in time.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("sidecar: %s: request timeout", e.Op) }

// Code returns CodeTimeout.
func (e *TimeoutError) Code() string { return CodeTimeout }

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RequestError reports a response with ok set to false. Payload holds
// whatever the peer attached, and Message the peer's error message if any.
type RequestError struct {
	Op      string
	Payload json.RawMessage
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sidecar: %s: request failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("sidecar: %s: request failed", e.Op)
}

// RemoteError reports an error envelope sent in reply to a request.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("sidecar: %s: %s: %s", e.Op, e.Code, e.Message)
}
