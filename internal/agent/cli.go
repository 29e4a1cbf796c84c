// internal/agent/cli.go
package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/hooks"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
)

// maxLineSize bounds a single stream message. Assistant messages with large
// embedded file contents fit well under this.
const maxLineSize = 4 << 20 // 4MB

// CLIClient runs the agent CLI as a subprocess, one invocation per task.
// The agent emits one JSON message per stdout line; the prompt goes to
// stdin. Lifecycle hooks fire as messages are decoded, on the same
// goroutine that reads the stream.
type CLIClient struct {
	// Command is the base argv, e.g. ["claude", "-p", "--output-format", "stream-json"].
	Command []string
	// APIKey is exported to the subprocess environment.
	APIKey config.Secret
	// Log receives subprocess diagnostics.
	Log *logging.Logger
}

// Run starts one agent invocation and returns its message stream. The
// session-start hook has fired by the time Run returns.
func (c *CLIClient) Run(ctx context.Context, prompt string, opts Options) (Stream, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("agent command not configured")
	}

	args := append([]string(nil), c.Command[1:]...)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}

	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = opts.Workdir
	cmd.Env = append(os.Environ(), "ANTHROPIC_API_KEY="+c.APIKey.Value())
	cmd.Stdin = strings.NewReader(prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}
	if c.Log != nil {
		c.Log.Debug(ctx, "agent started",
			zap.String("command", c.Command[0]),
			zap.Int("pid", cmd.Process.Pid))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	s := &cliStream{
		cmd:     cmd,
		scanner: scanner,
		stderr:  &stderr,
		bridge:  opts.Hooks,
		pending: make(map[string]hooks.ToolEvent),
	}

	if s.bridge != nil {
		s.bridge.OnSessionStart(ctx)
	}
	return s, nil
}

// cliStream adapts the subprocess stdout to the Stream interface and routes
// tool messages through the hook bridge.
type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	bridge  *hooks.Bridge

	// pending maps tool_use_id to its invocation so the post hook sees the
	// original tool name and input.
	pending map[string]hooks.ToolEvent

	mu     sync.Mutex
	ended  bool // session-end hook fired
	waited bool // cmd.Wait consumed
}

// Next decodes the next message, firing pre/post tool hooks inline.
func (s *cliStream) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read agent output: %w", err)
		}
		s.sessionEnd(ctx)
		if err := s.wait(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	line := bytes.TrimSpace(s.scanner.Bytes())
	if len(line) == 0 {
		return s.Next(ctx)
	}

	msg, err := DecodeMessage(line)
	if err != nil {
		return nil, err
	}

	s.observe(ctx, msg)
	return msg, nil
}

// observe fires the matching hook for tool messages.
func (s *cliStream) observe(ctx context.Context, msg Message) {
	if s.bridge == nil {
		return
	}
	switch m := msg.(type) {
	case *ToolUseMessage:
		ev := hooks.ToolEvent{
			ToolName:  m.ToolName,
			ToolInput: m.ToolInput,
			ToolUseID: m.ToolUseID,
		}
		s.pending[m.ToolUseID] = ev
		s.bridge.OnPreToolUse(ctx, ev)
	case *ToolResultMessage:
		ev, ok := s.pending[m.ToolUseID]
		if !ok {
			ev = hooks.ToolEvent{ToolUseID: m.ToolUseID}
		}
		delete(s.pending, m.ToolUseID)
		ev.ToolResult = m.Result
		s.bridge.OnPostToolUse(ctx, ev)
	}
}

// sessionEnd fires the session-end hook exactly once.
func (s *cliStream) sessionEnd(ctx context.Context) {
	s.mu.Lock()
	fire := !s.ended
	s.ended = true
	s.mu.Unlock()
	if fire && s.bridge != nil {
		s.bridge.OnSessionEnd(ctx)
	}
}

// wait reaps the subprocess exactly once, mapping a non-zero exit to an
// error that carries captured stderr.
func (s *cliStream) wait() error {
	s.mu.Lock()
	first := !s.waited
	s.waited = true
	s.mu.Unlock()
	if !first {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("agent exited: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

// Close releases the subprocess. Called after the reducer stops consuming,
// possibly before the stream is drained, in which case the agent is killed
// and its exit status is reported as cleanup noise.
func (s *cliStream) Close() error {
	s.sessionEnd(context.Background())
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.wait()
}
