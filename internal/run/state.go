// internal/run/state.go
package run

import (
	"sync"

	"github.com/google/uuid"
)

// State is the shared derived view of a batch execution. Lifecycle hooks
// mutate it from the stream-reading goroutine while the sequencer reads it,
// so every method takes the lock.
//
// The files-changed set and the completed-task list are append-only:
// nothing ever removes an entry, and insertion order is preserved.
type State struct {
	runID string

	mu        sync.Mutex
	currentID string
	current   string // description of the task being driven
	statuses  map[string]TaskStatus
	completed []string
	files     []string
	fileSet   map[string]struct{}
}

// NewState creates empty batch state with a fresh run ID.
func NewState() *State {
	return &State{
		runID:    uuid.NewString(),
		statuses: make(map[string]TaskStatus),
		fileSet:  make(map[string]struct{}),
	}
}

// RunID identifies this batch execution in every emitted event.
func (s *State) RunID() string {
	return s.runID
}

// StartTask marks a task as the one being driven.
func (s *State) StartTask(id, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = id
	s.current = description
	s.statuses[id] = TaskRunning
}

// CompleteTask appends the task to the completed list. Completing the same
// task twice is a no-op.
func (s *State) CompleteTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[id] == TaskCompleted {
		return
	}
	s.statuses[id] = TaskCompleted
	s.completed = append(s.completed, id)
}

// FailTask records a terminal failure. The task never joins the completed
// list.
func (s *State) FailTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = TaskFailed
}

// Status reports a task's lifecycle state, pending if never started.
func (s *State) Status(id string) TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[id]; ok {
		return st
	}
	return TaskPending
}

// RecordFile adds a path to the files-changed set. Returns true on first
// sight, false if the path is already recorded.
func (s *State) RecordFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fileSet[path]; ok {
		return false
	}
	s.fileSet[path] = struct{}{}
	s.files = append(s.files, path)
	return true
}

// CurrentTask is the description of the task being driven, empty before the
// first task starts.
func (s *State) CurrentTask() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CompletedTaskIDs returns the completion-ordered task IDs. The slice is a
// copy.
func (s *State) CompletedTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...)
}

// FilesChanged returns the insertion-ordered files-changed set. The slice
// is a copy.
func (s *State) FilesChanged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}
