// cmd/batchrun/main_test.go
package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
	"github.com/fyrsmithlabs/batchrun/internal/publish"
	"github.com/fyrsmithlabs/batchrun/internal/run"
)

type fakeBuilder struct {
	err   error
	calls int
}

func (b *fakeBuilder) Run(context.Context) error {
	b.calls++
	return b.err
}

type fakePublisher struct {
	calls int
}

func (p *fakePublisher) Publish(_ context.Context, _ []string) (*publish.Result, error) {
	p.calls++
	return &publish.Result{}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (n *fakeNotifier) Notify(_ context.Context, u notify.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

func (n *fakeNotifier) statuses() []notify.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Status, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.Status)
	}
	return out
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()

	f := cmd.Flags().Lookup("tasks")
	require.NotNil(t, f)
	assert.Equal(t, "tasks.yaml", f.DefValue)

	require.NotNil(t, cmd.Flags().Lookup("log-level"))
	require.NotNil(t, cmd.Flags().Lookup("log-format"))
}

func TestFinishRunFailedBuildBlocksPublication(t *testing.T) {
	state := run.NewState()
	state.StartTask("t1", "work")
	state.CompleteTask("t1")

	builder := &fakeBuilder{err: errors.New("build failed with exit code 2")}
	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}

	err := finishRun(context.Background(), logging.NewTestLogger().Logger, notifier, state, builder, publisher)
	require.Error(t, err)

	assert.Equal(t, 1, builder.calls)
	assert.Zero(t, publisher.calls, "a failed build must leave the publisher uncalled")

	statuses := notifier.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, notify.StatusError, statuses[len(statuses)-1])
}

func TestFinishRunCleanBuildPublishes(t *testing.T) {
	state := run.NewState()
	state.StartTask("t1", "work")
	state.CompleteTask("t1")

	builder := &fakeBuilder{}
	publisher := &fakePublisher{}

	err := finishRun(context.Background(), logging.NewTestLogger().Logger, &fakeNotifier{}, state, builder, publisher)
	require.NoError(t, err)
	assert.Equal(t, 1, publisher.calls)
}

func TestFinishRunNilPublisherReportsCompletion(t *testing.T) {
	state := run.NewState()
	notifier := &fakeNotifier{}

	err := finishRun(context.Background(), logging.NewTestLogger().Logger, notifier, state, &fakeBuilder{}, nil)
	require.NoError(t, err)

	statuses := notifier.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, notify.StatusCompleted, statuses[len(statuses)-1])
}

func TestExecuteRejectsMissingConfig(t *testing.T) {
	t.Setenv("BATCHRUN_PROJECT_ID", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--tasks", "does-not-exist.yaml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}
