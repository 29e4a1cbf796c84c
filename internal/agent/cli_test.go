// internal/agent/cli_test.go
package agent

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/hooks"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
)

// scriptClient builds a CLIClient whose "agent" is a shell script printing
// canned JSONL.
func scriptClient(t *testing.T, script string) *CLIClient {
	t.Helper()
	return &CLIClient{
		Command: []string{"sh", "-c", script},
		APIKey:  config.Secret("test-key"),
		Log:     logging.NewTestLogger().Logger,
	}
}

func drain(t *testing.T, s Stream) ([]Message, error) {
	t.Helper()
	var msgs []Message
	for {
		msg, err := s.Next(context.Background())
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}

type recordingState struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func newRecordingState() *recordingState {
	return &recordingState{seen: map[string]struct{}{}}
}

func (s *recordingState) RecordFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[path]; ok {
		return false
	}
	s.seen[path] = struct{}{}
	s.order = append(s.order, path)
	return true
}

func (s *recordingState) CurrentTask() string        { return "task-1" }
func (s *recordingState) CompletedTaskIDs() []string { return nil }

func (s *recordingState) FilesChanged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type captureNotifier struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (n *captureNotifier) Notify(_ context.Context, u notify.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

func (n *captureNotifier) statuses() []notify.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Status, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.Status)
	}
	return out
}

func TestCLIClientStreamsMessages(t *testing.T) {
	script := `cat - >/dev/null
echo '{"type":"assistant","text":"editing"}'
echo '{"type":"tool_use","tool_name":"Write","tool_use_id":"tu-1","tool_input":{"file_path":"main.go","content":"x"}}'
echo '{"type":"tool_result","tool_use_id":"tu-1","result":"ok"}'
echo '{"type":"result","subtype":"success","result":"all done"}'`
	c := scriptClient(t, script)

	s, err := c.Run(context.Background(), "do the task", Options{})
	require.NoError(t, err)

	msgs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.IsType(t, &AssistantMessage{}, msgs[0])
	tu, ok := msgs[1].(*ToolUseMessage)
	require.True(t, ok)
	assert.Equal(t, "Write", tu.ToolName)
	assert.Equal(t, "main.go", tu.ToolInput["file_path"])
	assert.IsType(t, &ToolResultMessage{}, msgs[2])
	res, ok := msgs[3].(*ResultMessage)
	require.True(t, ok)
	assert.Equal(t, ResultSubtypeSuccess, res.Subtype)
	assert.Equal(t, "all done", res.Result)

	require.NoError(t, s.Close())
}

func TestCLIClientFiresHooks(t *testing.T) {
	script := `cat - >/dev/null
echo '{"type":"tool_use","tool_name":"Edit","tool_use_id":"tu-1","tool_input":{"file_path":"pkg/a.go"}}'
echo '{"type":"tool_result","tool_use_id":"tu-1","result":"ok"}'
echo '{"type":"result","subtype":"success","result":"done"}'`
	c := scriptClient(t, script)

	state := newRecordingState()
	notifier := &captureNotifier{}
	bridge := hooks.NewBridge(state, notifier, []string{"task-1"}, logging.NewTestLogger().Logger)

	s, err := c.Run(context.Background(), "prompt", Options{Hooks: bridge})
	require.NoError(t, err)
	_, err = drain(t, s)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"pkg/a.go"}, state.FilesChanged())

	// session start, file change, session end.
	statuses := notifier.statuses()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, notify.StatusRunning, statuses[0])
	assert.Equal(t, notify.StatusCompleted, statuses[len(statuses)-1])
}

func TestCLIClientSessionEndOnceOnEOFAndClose(t *testing.T) {
	script := `cat - >/dev/null
echo '{"type":"result","subtype":"success","result":"done"}'`
	c := scriptClient(t, script)

	state := newRecordingState()
	notifier := &captureNotifier{}
	bridge := hooks.NewBridge(state, notifier, []string{"task-1"}, logging.NewTestLogger().Logger)

	s, err := c.Run(context.Background(), "prompt", Options{Hooks: bridge})
	require.NoError(t, err)
	_, err = drain(t, s)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var ends int
	for _, st := range notifier.statuses() {
		if st == notify.StatusCompleted {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestCLIClientNonZeroExit(t *testing.T) {
	script := `cat - >/dev/null
echo "simulated crash" >&2
exit 3`
	c := scriptClient(t, script)

	s, err := c.Run(context.Background(), "prompt", Options{})
	require.NoError(t, err)

	_, err = drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated crash")
}

func TestCLIClientSkipsBlankLines(t *testing.T) {
	script := `cat - >/dev/null
echo ''
echo '{"type":"result","subtype":"success","result":"done"}'`
	c := scriptClient(t, script)

	s, err := c.Run(context.Background(), "prompt", Options{})
	require.NoError(t, err)

	msgs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, s.Close())
}

func TestCLIClientUnknownMessageKind(t *testing.T) {
	script := `cat - >/dev/null
echo '{"type":"usage_report","tokens":42}'
echo '{"type":"result","subtype":"success","result":"done"}'`
	c := scriptClient(t, script)

	s, err := c.Run(context.Background(), "prompt", Options{})
	require.NoError(t, err)

	msgs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	u, ok := msgs[0].(*UnknownMessage)
	require.True(t, ok)
	assert.Equal(t, "usage_report", u.Kind)
	require.NoError(t, s.Close())
}

func TestCLIClientEmptyCommand(t *testing.T) {
	c := &CLIClient{}
	_, err := c.Run(context.Background(), "prompt", Options{})
	require.Error(t, err)
}
