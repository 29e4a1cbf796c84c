// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// ErrNoResult is returned when the stream ends without any result message.
// A silently closing stream is a failure, not an empty success.
var ErrNoResult = errors.New("agent: no result received")

// ProtocolError is a stream-level fault reported by the provider. The
// provider-specific fields are kept structured for diagnostic propagation,
// not flattened into the message.
type ProtocolError struct {
	StatusCode int
	ErrorType  string
	Cause      string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agent protocol error: %s (status %d): %s", e.ErrorType, e.StatusCode, e.Cause)
}

// TaskError is a terminal result with a non-success subtype.
type TaskError struct {
	Subtype string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("agent: task failed with result subtype %q", e.Subtype)
}
