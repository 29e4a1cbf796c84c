// internal/run/task.go
package run

import "fmt"

// TaskStatus is the lifecycle state of one task in the batch.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskFailure wraps the error that aborted the batch with the identity of
// the task that raised it.
type TaskFailure struct {
	TaskID string
	Err    error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskFailure) Unwrap() error {
	return e.Err
}

// ErrIncompleteBatch reports a sequencer exit where the loop finished
// without error yet some task never reached completed state. It indicates
// a sequencing bug, not an agent failure.
type ErrIncompleteBatch struct {
	Expected int
	Got      int
}

func (e *ErrIncompleteBatch) Error() string {
	return fmt.Sprintf("batch incomplete: %d of %d tasks completed", e.Got, e.Expected)
}
