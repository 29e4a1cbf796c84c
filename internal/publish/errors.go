// internal/publish/errors.go
package publish

import "fmt"

// CommitError is a failure in or before the commit step. Nothing reached
// the remote.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("publish: commit stage: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// PushError is a failure after a successful commit. The local history is
// kept; only delivery to the remote failed.
type PushError struct {
	Branch string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("publish: push to %s: %v", e.Branch, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }
