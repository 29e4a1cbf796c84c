// internal/notify/event.go
package notify

import (
	"encoding/json"
	"time"
)

// Status is the run-level state reported to the remote observer.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// BuildStatus reports the build step around task completion.
type BuildStatus string

const (
	BuildStatusBuilding BuildStatus = "building"
	BuildStatusSuccess  BuildStatus = "success"
)

// Update is the caller-facing projection of run state for one notification.
type Update struct {
	Status         Status
	CurrentTask    string
	CompletedTasks []string
	FilesChanged   []string
	BuildStatus    BuildStatus // optional
	Error          string      // optional
}

// Event is the wire payload. Field order is fixed: the signature is computed
// over this struct's JSON serialization, so reordering fields breaks
// verification on the receiver.
type Event struct {
	ProjectID      string      `json:"projectId"`
	Status         Status      `json:"status"`
	CurrentTask    string      `json:"currentTask"`
	CompletedTasks []string    `json:"completedTasks"`
	FilesChanged   []string    `json:"filesChanged"`
	BuildStatus    BuildStatus `json:"buildStatus,omitempty"`
	Error          string      `json:"error,omitempty"`
	Timestamp      string      `json:"timestamp"`
	RunID          string      `json:"runId"`
}

// envelope is the transmitted body: the event plus its signature. The
// signature field itself is not part of the signed bytes.
type envelope struct {
	Event
	Signature string `json:"signature"`
}

// newEvent builds the point-in-time event for an update. Nil slices are
// normalized to empty so receivers always see arrays.
func newEvent(projectID, runID string, u Update, now time.Time) Event {
	completed := u.CompletedTasks
	if completed == nil {
		completed = []string{}
	}
	files := u.FilesChanged
	if files == nil {
		files = []string{}
	}
	return Event{
		ProjectID:      projectID,
		Status:         u.Status,
		CurrentTask:    u.CurrentTask,
		CompletedTasks: completed,
		FilesChanged:   files,
		BuildStatus:    u.BuildStatus,
		Error:          u.Error,
		Timestamp:      now.UTC().Format(time.RFC3339),
		RunID:          runID,
	}
}

// Payload returns the canonical signed bytes for the event.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}
