// internal/build/build.go

// Package build runs the project's build command as an opaque subprocess.
// A non-zero exit is a BuildError unless stderr is advisory-only output,
// which some toolchains emit alongside a failing exit code.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/logging"
)

// warningMarkers are the stderr substrings that downgrade a non-zero exit
// to advisory output.
var warningMarkers = []string{"warning", "WARN"}

// Error is a failed build: non-zero exit with non-advisory stderr.
type Error struct {
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("build failed with exit code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Runner invokes the configured build command in the project directory.
type Runner struct {
	command []string
	workdir string
	log     *logging.Logger
}

// NewRunner creates a runner for the given argv. An empty argv means no
// build step is configured and Run always succeeds.
func NewRunner(command []string, workdir string, log *logging.Logger) *Runner {
	return &Runner{
		command: command,
		workdir: workdir,
		log:     log.Named("build"),
	}
}

// Run executes the build command once. Output is captured, not streamed.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.command) == 0 {
		r.log.Debug(ctx, "no build command configured, skipping")
		return nil
	}

	r.log.Info(ctx, "running build", zap.Strings("command", r.command))

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		r.log.Info(ctx, "build succeeded")
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// Command never ran (not found, permission). Still a build failure.
		return &Error{ExitCode: -1, Stderr: err.Error()}
	}
	exitCode := exitErr.ExitCode()

	stderrText := stderr.String()
	if isAdvisoryOnly(stderrText) {
		r.log.Warn(ctx, "build exited non-zero with advisory output only",
			zap.Int("exit_code", exitCode),
			zap.String("stderr", strings.TrimSpace(stderrText)),
		)
		return nil
	}

	return &Error{ExitCode: exitCode, Stderr: stderrText}
}

// isAdvisoryOnly reports whether stderr looks like warnings rather than
// errors.
func isAdvisoryOnly(stderr string) bool {
	if strings.TrimSpace(stderr) == "" {
		return false
	}
	for _, marker := range warningMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}
