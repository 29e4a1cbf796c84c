// Package config loading: YAML task file first, environment on top.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces every batchrun environment variable.
	envPrefix = "BATCHRUN_"

	maxTaskFileSize = 1 << 20 // 1MB
)

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (BATCHRUN_PROJECT_ID, BATCHRUN_WEBHOOK_URL, ...)
//  2. YAML task file (tasksPath, optional)
//  3. Hardcoded defaults
//
// The task file carries the ordered batch:
//
//	tasks:
//	  - id: task-1
//	    description: Add input validation to the signup form
//
// Environment variables map by stripping the prefix and lowercasing:
// BATCHRUN_WEBHOOK_SECRET -> webhook_secret.
func Load(tasksPath string) (*Config, error) {
	k := koanf.New(".")

	if tasksPath != "" {
		content, err := readTaskFile(tasksPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse task file %s: %w", tasksPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// readTaskFile reads the task file with a size cap. Oversized files are
// rejected rather than truncated.
func readTaskFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat task file: %w", err)
	}
	if info.Size() > maxTaskFileSize {
		return nil, fmt.Errorf("task file too large: %d bytes (max %d)", info.Size(), maxTaskFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return content, nil
}
