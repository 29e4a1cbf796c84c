// cmd/batchrun/main.go

// Command batchrun executes a bounded batch of coding tasks by driving an
// agent CLI, reports signed progress events to a webhook, and publishes the
// resulting changes. Exit code 0 means every task completed and the build
// passed; publication is best-effort and never affects the exit code.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/batchrun/internal/agent"
	"github.com/fyrsmithlabs/batchrun/internal/build"
	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
	"github.com/fyrsmithlabs/batchrun/internal/notify"
	"github.com/fyrsmithlabs/batchrun/internal/publish"
	"github.com/fyrsmithlabs/batchrun/internal/run"
	"github.com/fyrsmithlabs/batchrun/internal/verify"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "batchrun: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		tasksPath string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:     "batchrun",
		Short:   "Run a bounded batch of agent-driven coding tasks",
		Version: version,
		Long: `batchrun drives an agent CLI through a small ordered batch of coding
tasks, tracks which files changed and which tasks completed from the
agent's tool-call stream, reports signed progress events to a remote
webhook, and commits and pushes the resulting changes.

Configuration comes from BATCHRUN_* environment variables (a local .env
file is loaded if present) and a YAML task file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), tasksPath, logLevel, logFormat)
		},
	}

	cmd.Flags().StringVarP(&tasksPath, "tasks", "t", "tasks.yaml", "path to the YAML task file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")

	return cmd
}

func execute(ctx context.Context, tasksPath, logLevel, logFormat string) error {
	// Missing .env is fine; the environment may be fully populated already.
	_ = godotenv.Load()

	cfg, err := config.Load(tasksPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logCfg.Level = level
	logCfg.Format = logFormat
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	state := run.NewState()
	ctx = logging.WithRunID(ctx, state.RunID())

	notifier := notify.New(notify.Options{
		URL:       cfg.WebhookURL,
		Secret:    cfg.WebhookSecret,
		ProjectID: cfg.ProjectID,
		RunID:     state.RunID(),
		Timeout:   cfg.NotifyTimeout.Duration(),
		Logger:    log,
	})
	defer notifier.Wait()

	log.Info(ctx, "run starting",
		zap.String("project_id", cfg.ProjectID),
		zap.Int("tasks", len(cfg.Tasks)),
		zap.String("workdir", cfg.Workdir),
	)

	client := &agent.CLIClient{
		Command: cfg.AgentArgs(),
		APIKey:  cfg.APIKey,
		Log:     log,
	}
	verifier := verify.New(cfg.Workdir)
	seq := run.NewSequencer(client, state, notifier, verifier, agent.Options{
		Model:   cfg.Model,
		Workdir: cfg.Workdir,
	}, log)

	if err := seq.Run(ctx, cfg.Tasks); err != nil {
		return fail(ctx, log, notifier, state, err)
	}

	builder := build.NewRunner(cfg.BuildArgs(), cfg.Workdir, log)
	var publisher resultPublisher
	if cfg.RepoURL != "" {
		publisher = publish.New(cfg.Workdir, cfg.RepoURL, cfg.RepoToken, notifier, log)
	}
	return finishRun(ctx, log, notifier, state, builder, publisher)
}

// progressNotifier is the event sink. Satisfied by *notify.Notifier.
type progressNotifier interface {
	Notify(ctx context.Context, u notify.Update)
}

// buildRunner is the build gate. Satisfied by *build.Runner.
type buildRunner interface {
	Run(ctx context.Context) error
}

// resultPublisher delivers the run's changes. Satisfied by
// *publish.Publisher; nil means publication is disabled.
type resultPublisher interface {
	Publish(ctx context.Context, completedTasks []string) (*publish.Result, error)
}

// finishRun gates publication on the build outcome: a failed build ends the
// run without the publisher ever being invoked.
func finishRun(ctx context.Context, log *logging.Logger, notifier progressNotifier, state *run.State, builder buildRunner, publisher resultPublisher) error {
	notifier.Notify(ctx, notify.Update{
		Status:         notify.StatusRunning,
		CompletedTasks: state.CompletedTaskIDs(),
		FilesChanged:   state.FilesChanged(),
		BuildStatus:    notify.BuildStatusBuilding,
	})
	if err := builder.Run(ctx); err != nil {
		// A failed build blocks publication entirely.
		return fail(ctx, log, notifier, state, err)
	}

	if publisher == nil {
		log.Info(ctx, "publication disabled, no repo_url configured")
		notifier.Notify(ctx, notify.Update{
			Status:         notify.StatusCompleted,
			CompletedTasks: state.CompletedTaskIDs(),
			FilesChanged:   state.FilesChanged(),
			BuildStatus:    notify.BuildStatusSuccess,
		})
	} else if _, err := publisher.Publish(ctx, state.CompletedTaskIDs()); err != nil {
		// Best-effort: the run already succeeded.
		log.Warn(ctx, "publication failed", zap.Error(err))
	}

	log.Info(ctx, "run complete",
		zap.Strings("completed", state.CompletedTaskIDs()),
		zap.Int("files_changed", len(state.FilesChanged())),
	)
	return nil
}

// fail emits the final diagnostic report and the error-status webhook, then
// returns the error for a non-zero exit.
func fail(ctx context.Context, log *logging.Logger, notifier progressNotifier, state *run.State, err error) error {
	log.Error(ctx, "run failed",
		zap.Error(err),
		zap.Strings("completed", state.CompletedTaskIDs()),
		zap.Strings("files_changed", state.FilesChanged()),
	)

	var failure *run.TaskFailure
	if !errors.As(err, &failure) {
		// Build and other post-task faults still get an error event; task
		// failures already emitted one from the sequencer.
		notifier.Notify(ctx, notify.Update{
			Status:         notify.StatusError,
			CompletedTasks: state.CompletedTaskIDs(),
			FilesChanged:   state.FilesChanged(),
			Error:          err.Error(),
		})
	}
	return err
}
