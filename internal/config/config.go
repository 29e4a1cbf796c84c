// Package config provides configuration loading for batchrun.
//
// Configuration is sourced from environment variables, with the task batch
// optionally supplied by a YAML file. Required values are validated at
// startup; a missing value is fatal before any task runs.
package config

import (
	"fmt"
	"strings"
	"time"
)

// MaxTasks bounds the task batch. The runner is a one-shot pipeline over a
// small fixed list, not a general scheduler.
const MaxTasks = 3

// Task is a single unit of work handed to the agent. Tasks are immutable
// and execute strictly in the order they are declared.
type Task struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
}

// Config holds the complete batchrun configuration.
type Config struct {
	// ProjectID identifies this project in progress events.
	ProjectID string `koanf:"project_id"`

	// APIKey authenticates against the agent provider.
	APIKey Secret `koanf:"api_key"`

	// WebhookURL is the progress event endpoint.
	WebhookURL string `koanf:"webhook_url"`

	// WebhookSecret keys the HMAC-SHA256 event signatures.
	WebhookSecret Secret `koanf:"webhook_secret"`

	// RepoURL is the optional publication remote. Empty disables publication.
	RepoURL string `koanf:"repo_url"`

	// RepoToken is the bearer credential embedded into the remote URL.
	RepoToken Secret `koanf:"repo_token"`

	// Workdir is the directory the agent and git operations run in.
	Workdir string `koanf:"workdir"`

	// Model selects the agent model. Empty uses the agent's default.
	Model string `koanf:"model"`

	// AgentCommand is the agent CLI invocation, split on whitespace.
	AgentCommand string `koanf:"agent_command"`

	// BuildCommand is the post-task build step, split on whitespace.
	// Empty skips the build gate.
	BuildCommand string `koanf:"build_command"`

	// NotifyTimeout bounds each webhook delivery attempt.
	NotifyTimeout Duration `koanf:"notify_timeout"`

	// Tasks is the ordered batch. Duplicate IDs are kept as-is.
	Tasks []Task `koanf:"tasks"`
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Workdir == "" {
		cfg.Workdir = "."
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = "claude -p --output-format stream-json"
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = Duration(5 * time.Second)
	}
}

// Validate checks that every required value is present. A validation error
// aborts the run before any task executes.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !c.APIKey.IsSet() {
		return fmt.Errorf("api_key is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook_url must be an http(s) URL, got %q", c.WebhookURL)
	}
	if !c.WebhookSecret.IsSet() {
		return fmt.Errorf("webhook_secret is required")
	}
	if c.RepoURL != "" && !c.RepoToken.IsSet() {
		return fmt.Errorf("repo_token is required when repo_url is set")
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}
	if len(c.Tasks) > MaxTasks {
		return fmt.Errorf("task batch exceeds limit: %d > %d", len(c.Tasks), MaxTasks)
	}
	for i, t := range c.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d: id is required", i)
		}
		if t.Description == "" {
			return fmt.Errorf("task %s: description is required", t.ID)
		}
	}
	if c.NotifyTimeout.Duration() <= 0 {
		return fmt.Errorf("notify_timeout must be > 0")
	}
	return nil
}

// AgentArgs returns the agent command split into argv form.
func (c *Config) AgentArgs() []string {
	return strings.Fields(c.AgentCommand)
}

// BuildArgs returns the build command split into argv form. The command is
// never handed to a shell, so no quoting or escaping applies.
func (c *Config) BuildArgs() []string {
	return strings.Fields(c.BuildCommand)
}
