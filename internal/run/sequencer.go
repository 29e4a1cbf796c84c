// internal/run/sequencer.go
package run

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/agent"
	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/hooks"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
)

// Verifier counts actually-changed files in the working tree. Used by the
// sequencer as a cross-check against hook-derived state, never as a gate.
type Verifier interface {
	CountChanged(ctx context.Context) (int, error)
}

// Sequencer drives the batch through the agent strictly in order, one task
// per agent invocation. The first task failure aborts the batch; tasks
// after it stay pending.
type Sequencer struct {
	client   agent.Client
	state    *State
	notifier hooks.Notifier
	verifier Verifier // optional
	opts     agent.Options
	log      *logging.Logger
}

// NewSequencer assembles a sequencer over shared batch state. verifier may
// be nil, in which case the post-run cross-check is skipped.
func NewSequencer(client agent.Client, state *State, notifier hooks.Notifier, verifier Verifier, opts agent.Options, log *logging.Logger) *Sequencer {
	return &Sequencer{
		client:   client,
		state:    state,
		notifier: notifier,
		verifier: verifier,
		opts:     opts,
		log:      log.Named("sequencer"),
	}
}

// Run executes every task in order. On success all tasks are in the
// completed list; on failure the returned TaskFailure names the task that
// aborted the batch, and the completed list holds exactly the tasks that
// finished before it.
func (s *Sequencer) Run(ctx context.Context, tasks []config.Task) error {
	ctx = logging.WithRunID(ctx, s.state.RunID())

	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}

	opts := s.opts
	opts.Hooks = hooks.NewBridge(s.state, s.notifier, taskIDs, s.log)

	for _, t := range tasks {
		taskCtx := logging.WithTaskID(ctx, t.ID)
		s.state.StartTask(t.ID, t.Description)
		s.log.Info(taskCtx, "task started")
		s.notifier.Notify(taskCtx, notify.Update{
			Status:         notify.StatusRunning,
			CurrentTask:    t.Description,
			CompletedTasks: s.state.CompletedTaskIDs(),
			FilesChanged:   s.state.FilesChanged(),
		})

		result, err := s.runTask(taskCtx, t, opts)
		if err != nil {
			s.state.FailTask(t.ID)
			s.log.Error(taskCtx, "task failed, aborting batch", zap.Error(err))
			s.notifier.Notify(taskCtx, notify.Update{
				Status:         notify.StatusError,
				CurrentTask:    t.Description,
				CompletedTasks: s.state.CompletedTaskIDs(),
				FilesChanged:   s.state.FilesChanged(),
				Error:          err.Error(),
			})
			return &TaskFailure{TaskID: t.ID, Err: err}
		}

		s.state.CompleteTask(t.ID)
		s.log.Info(taskCtx, "task completed", zap.Int("result_len", len(result)))
		s.notifier.Notify(taskCtx, notify.Update{
			Status:         notify.StatusRunning,
			CurrentTask:    t.Description,
			CompletedTasks: s.state.CompletedTaskIDs(),
			FilesChanged:   s.state.FilesChanged(),
		})
		s.crossCheck(taskCtx)
	}

	if got := len(s.state.CompletedTaskIDs()); got != len(tasks) {
		return &ErrIncompleteBatch{Expected: len(tasks), Got: got}
	}
	return nil
}

// runTask performs one agent invocation and reduces its stream.
func (s *Sequencer) runTask(ctx context.Context, t config.Task, opts agent.Options) (string, error) {
	stream, err := s.client.Run(ctx, t.Description, opts)
	if err != nil {
		return "", fmt.Errorf("start agent for task %s: %w", t.ID, err)
	}
	return agent.Reduce(ctx, stream, s.log)
}

// crossCheck runs after each task completion and compares hook-derived
// file counts against the working tree. It is diagnostic only: errors are
// swallowed, and its one real signal is a task that finished with no
// observed changes and a clean tree.
func (s *Sequencer) crossCheck(ctx context.Context) {
	if s.verifier == nil {
		return
	}
	actual, err := s.verifier.CountChanged(ctx)
	if err != nil {
		s.log.Warn(ctx, "working tree verification failed", zap.Error(err))
		return
	}
	observed := len(s.state.FilesChanged())
	if observed == 0 && actual == 0 {
		s.log.Warn(ctx, "task completed with no observed or actual changes")
		return
	}
	if actual != observed {
		// Hooks see intent, the tree sees outcome; the two legitimately
		// diverge when the agent reverts its own edits.
		s.log.Debug(ctx, "hook-observed file count differs from working tree",
			zap.Int("observed", observed),
			zap.Int("actual", actual),
		)
	}
}
