// internal/hooks/hooks.go
package hooks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
)

// Tool names the bridge understands. Anything else is logged and ignored.
const (
	ToolWrite      = "Write"
	ToolEdit       = "Edit"
	ToolBash       = "Bash"
	ToolBashOutput = "BashOutput"
)

// pathFieldNames is the ordered fallback list of accepted file-path field
// names in tool input. Both spellings shipped at different times; this is a
// compatibility shim, checked in order.
var pathFieldNames = []string{"file_path", "filePath"}

// ToolEvent is the boundary's view of a single tool invocation. It is
// consumed transiently; the bridge keeps nothing from it except derived
// state mutations.
type ToolEvent struct {
	ToolName   string
	ToolInput  map[string]any
	ToolUseID  string
	ToolResult any // set on post-tool-use only
}

// Decision is the continuation directive returned from every hook slot.
type Decision struct {
	Continue   bool
	Permission string // "approve" on pre-tool-use, empty elsewhere
}

// PermissionApprove grants the tool call unconditionally.
const PermissionApprove = "approve"

// Recorder is the shared run state the bridge mutates. Implementations must
// be safe for concurrent use: some agent boundaries deliver hooks from the
// stream-reading goroutine.
type Recorder interface {
	// RecordFile adds a path to the files-changed set. Returns true if the
	// path was not already recorded.
	RecordFile(path string) bool
	// CurrentTask is the description of the task being driven.
	CurrentTask() string
	// CompletedTaskIDs is the ordered list of finished task IDs.
	CompletedTaskIDs() []string
	// FilesChanged is the insertion-ordered files-changed set.
	FilesChanged() []string
}

// Notifier is the progress event sink. Satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, u notify.Update)
}

// Bridge wires the four lifecycle slots to the shared run state.
type Bridge struct {
	state    Recorder
	notifier Notifier
	taskIDs  []string
	log      *logging.Logger
}

// NewBridge creates a bridge over the given run state. taskIDs is the full
// batch, used only by the session-end sweep report.
func NewBridge(state Recorder, notifier Notifier, taskIDs []string, log *logging.Logger) *Bridge {
	return &Bridge{
		state:    state,
		notifier: notifier,
		taskIDs:  taskIDs,
		log:      log.Named("hooks"),
	}
}

// OnSessionStart reports the run as started.
func (b *Bridge) OnSessionStart(ctx context.Context) (d Decision) {
	d = Decision{Continue: true}
	defer b.recovered(ctx, "session_start")

	b.log.Info(ctx, "agent session started")
	b.notifier.Notify(ctx, notify.Update{
		Status:         notify.StatusRunning,
		CurrentTask:    b.state.CurrentTask(),
		CompletedTasks: b.state.CompletedTaskIDs(),
		FilesChanged:   b.state.FilesChanged(),
	})
	return d
}

// OnSessionEnd reports a final sweep listing every task ID in the batch,
// regardless of per-task outcomes. The sequencer's own completion list is
// authoritative; this signal can be stale after an aborted run and
// receivers should treat it as secondary.
func (b *Bridge) OnSessionEnd(ctx context.Context) (d Decision) {
	d = Decision{Continue: true}
	defer b.recovered(ctx, "session_end")

	b.log.Info(ctx, "agent session ended", zap.Int("tasks", len(b.taskIDs)))
	b.notifier.Notify(ctx, notify.Update{
		Status:         notify.StatusCompleted,
		CurrentTask:    b.state.CurrentTask(),
		CompletedTasks: b.taskIDs,
		FilesChanged:   b.state.FilesChanged(),
	})
	return d
}

// OnPreToolUse observes a tool call before it runs. File-writing tools have
// their target path recorded; every call is approved.
func (b *Bridge) OnPreToolUse(ctx context.Context, ev ToolEvent) (d Decision) {
	d = Decision{Continue: true, Permission: PermissionApprove}
	defer b.recovered(ctx, "pre_tool_use")

	switch ev.ToolName {
	case ToolWrite, ToolEdit:
		if path, ok := filePath(ev.ToolInput); ok {
			b.recordFile(ctx, ev.ToolName, path)
		} else {
			b.log.Warn(ctx, "file tool call without a path field",
				zap.String("tool", ev.ToolName),
				zap.String("tool_use_id", ev.ToolUseID),
			)
		}
	default:
		b.log.Debug(ctx, "tool call observed",
			zap.String("tool", ev.ToolName),
			zap.String("tool_use_id", ev.ToolUseID),
		)
	}

	return d
}

// OnPostToolUse re-derives the path after the tool ran and records it if the
// pre hook missed it. Recording is keyed by path, so the duplicate
// observation is a no-op. Bash output is logged for diagnosis only.
func (b *Bridge) OnPostToolUse(ctx context.Context, ev ToolEvent) (d Decision) {
	d = Decision{Continue: true}
	defer b.recovered(ctx, "post_tool_use")

	switch ev.ToolName {
	case ToolWrite, ToolEdit:
		if path, ok := filePath(ev.ToolInput); ok {
			b.recordFile(ctx, ev.ToolName, path)
		}
	case ToolBash, ToolBashOutput:
		b.log.Debug(ctx, "command tool finished",
			zap.String("tool", ev.ToolName),
			zap.String("tool_use_id", ev.ToolUseID),
			zap.String("command", truncate(commandText(ev.ToolInput), 200)),
			zap.String("result", truncate(fmt.Sprint(ev.ToolResult), 200)),
		)
	}

	return d
}

// recordFile adds the path to the run state and notifies on first sight.
func (b *Bridge) recordFile(ctx context.Context, tool, path string) {
	if !b.state.RecordFile(path) {
		return
	}
	b.log.Info(ctx, "file change observed",
		zap.String("tool", tool),
		zap.String("path", path),
	)
	b.notifier.Notify(ctx, notify.Update{
		Status:         notify.StatusRunning,
		CurrentTask:    b.state.CurrentTask(),
		CompletedTasks: b.state.CompletedTaskIDs(),
		FilesChanged:   b.state.FilesChanged(),
	})
}

// recovered keeps hook faults inside the bridge. Slots set their directive
// before the body runs, so a recovered panic still returns continue.
func (b *Bridge) recovered(ctx context.Context, slot string) {
	if r := recover(); r != nil {
		b.log.Error(ctx, "hook fault recovered",
			zap.String("slot", slot),
			zap.Any("panic", r),
		)
	}
}

// filePath extracts the target path from tool input, trying each accepted
// field name in order.
func filePath(input map[string]any) (string, bool) {
	for _, name := range pathFieldNames {
		if v, ok := input[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// commandText extracts the shell command from tool input for log context.
func commandText(input map[string]any) string {
	if v, ok := input["command"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
