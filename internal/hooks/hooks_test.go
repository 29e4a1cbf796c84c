package hooks

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
)

// fakeState implements Recorder with the same append-only set semantics the
// real run state has.
type fakeState struct {
	mu        sync.Mutex
	files     []string
	seen      map[string]struct{}
	completed []string
	current   string
}

func newFakeState() *fakeState {
	return &fakeState{seen: make(map[string]struct{}), current: "current task"}
}

func (s *fakeState) RecordFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[path]; ok {
		return false
	}
	s.seen[path] = struct{}{}
	s.files = append(s.files, path)
	return true
}

func (s *fakeState) CurrentTask() string        { return s.current }
func (s *fakeState) CompletedTaskIDs() []string { return s.completed }
func (s *fakeState) FilesChanged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (f *fakeNotifier) Notify(_ context.Context, u notify.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeNotifier) all() []notify.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Update(nil), f.updates...)
}

func newTestBridge() (*Bridge, *fakeState, *fakeNotifier, *logging.TestLogger) {
	state := newFakeState()
	notifier := &fakeNotifier{}
	tl := logging.NewTestLogger()
	b := NewBridge(state, notifier, []string{"task-1", "task-2"}, tl.Logger)
	return b, state, notifier, tl
}

func TestOnPreToolUse_RecordsWriteAndEditPaths(t *testing.T) {
	b, state, notifier, _ := newTestBridge()
	ctx := context.Background()

	d := b.OnPreToolUse(ctx, ToolEvent{
		ToolName:  ToolWrite,
		ToolInput: map[string]any{"file_path": "src/app.go", "content": "..."},
		ToolUseID: "tu-1",
	})
	assert.True(t, d.Continue)
	assert.Equal(t, PermissionApprove, d.Permission)

	b.OnPreToolUse(ctx, ToolEvent{
		ToolName:  ToolEdit,
		ToolInput: map[string]any{"filePath": "src/db.go"},
		ToolUseID: "tu-2",
	})

	assert.Equal(t, []string{"src/app.go", "src/db.go"}, state.FilesChanged())

	updates := notifier.all()
	require.Len(t, updates, 2)
	assert.Equal(t, notify.StatusRunning, updates[0].Status)
	assert.Equal(t, "current task", updates[0].CurrentTask)
}

func TestFileRecording_AtMostOncePerPath(t *testing.T) {
	b, state, notifier, _ := newTestBridge()
	ctx := context.Background()

	// N observations of the same path: any mix of pre/post events and
	// either field-name variant.
	events := []ToolEvent{
		{ToolName: ToolWrite, ToolInput: map[string]any{"file_path": "src/app.go"}},
		{ToolName: ToolEdit, ToolInput: map[string]any{"filePath": "src/app.go"}},
		{ToolName: ToolWrite, ToolInput: map[string]any{"file_path": "src/app.go"}},
	}
	for _, ev := range events {
		b.OnPreToolUse(ctx, ev)
		b.OnPostToolUse(ctx, ev)
	}

	assert.Equal(t, []string{"src/app.go"}, state.FilesChanged())
	// Only the first observation notified.
	assert.Len(t, notifier.all(), 1)
}

func TestOnPostToolUse_BashIsLogOnly(t *testing.T) {
	b, state, _, tl := newTestBridge()
	ctx := context.Background()

	d := b.OnPostToolUse(ctx, ToolEvent{
		ToolName:   ToolBash,
		ToolInput:  map[string]any{"command": "npm test"},
		ToolUseID:  "tu-9",
		ToolResult: "ok",
	})

	assert.True(t, d.Continue)
	assert.Empty(t, state.FilesChanged())
	tl.AssertLogged(t, zapcore.DebugLevel, "command tool finished")
	tl.AssertField(t, "command tool finished", "command", "npm test")
	tl.AssertField(t, "command tool finished", "result", "ok")
}

func TestOnPreToolUse_MissingPathFieldWarns(t *testing.T) {
	b, state, _, tl := newTestBridge()

	d := b.OnPreToolUse(context.Background(), ToolEvent{
		ToolName:  ToolWrite,
		ToolInput: map[string]any{"content": "no path here"},
	})

	assert.True(t, d.Continue)
	assert.Equal(t, PermissionApprove, d.Permission)
	assert.Empty(t, state.FilesChanged())
	tl.AssertLogged(t, zapcore.WarnLevel, "without a path field")
}

func TestSessionEnd_ReportsFullBatchSweep(t *testing.T) {
	b, _, notifier, _ := newTestBridge()

	d := b.OnSessionEnd(context.Background())
	assert.True(t, d.Continue)

	updates := notifier.all()
	require.Len(t, updates, 1)
	assert.Equal(t, notify.StatusCompleted, updates[0].Status)
	// The sweep lists every batch task ID regardless of sequencer outcomes.
	assert.Equal(t, []string{"task-1", "task-2"}, updates[0].CompletedTasks)
}

// panickyState fails on every mutation to prove faults stay inside the
// bridge.
type panickyState struct{ fakeState }

func (s *panickyState) RecordFile(string) bool { panic("state corrupted") }

func TestHookFaultNeverEscapes(t *testing.T) {
	state := &panickyState{fakeState: fakeState{seen: map[string]struct{}{}, current: "t"}}
	tl := logging.NewTestLogger()
	b := NewBridge(state, &fakeNotifier{}, nil, tl.Logger)

	var d Decision
	require.NotPanics(t, func() {
		d = b.OnPreToolUse(context.Background(), ToolEvent{
			ToolName:  ToolWrite,
			ToolInput: map[string]any{"file_path": "x.go"},
		})
	})

	assert.True(t, d.Continue, "a faulting hook must still continue")
	assert.Equal(t, PermissionApprove, d.Permission)
	tl.AssertLogged(t, zapcore.ErrorLevel, "hook fault recovered")
}
