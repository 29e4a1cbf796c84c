// internal/agent/messages.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/batchrun/internal/hooks"
)

// ResultSubtypeSuccess marks the one terminal subtype that counts as task
// success. Every other subtype is a failure named after itself.
const ResultSubtypeSuccess = "success"

// Message is one typed element of the agent's output stream.
type Message interface {
	isMessage()
}

// AssistantMessage carries plain assistant output. Side-channel only.
type AssistantMessage struct {
	Text string `json:"text"`
}

// ToolUseMessage announces a tool invocation before it runs.
type ToolUseMessage struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	ToolUseID string         `json:"tool_use_id"`
}

// ToolResultMessage reports a finished tool invocation.
type ToolResultMessage struct {
	ToolUseID string `json:"tool_use_id"`
	Result    any    `json:"result"`
}

// ResultMessage terminates a task invocation.
type ResultMessage struct {
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
}

// ErrorMessage is a stream-level protocol fault from the provider. Its
// fields survive into the raised error as structured data.
type ErrorMessage struct {
	StatusCode int    `json:"status"`
	ErrorType  string `json:"error_type"`
	Cause      string `json:"cause"`
}

// UnknownMessage preserves messages of unrecognized type. Tolerated and
// logged, never reduced.
type UnknownMessage struct {
	Kind string
	Raw  json.RawMessage
}

func (*AssistantMessage) isMessage()  {}
func (*ToolUseMessage) isMessage()    {}
func (*ToolResultMessage) isMessage() {}
func (*ResultMessage) isMessage()     {}
func (*ErrorMessage) isMessage()      {}
func (*UnknownMessage) isMessage()    {}

// DecodeMessage parses one wire message. The type tag selects the shape;
// an unrecognized tag yields an UnknownMessage rather than an error.
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch head.Type {
	case "assistant":
		var m AssistantMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed assistant message: %w", err)
		}
		return &m, nil
	case "tool_use":
		var m ToolUseMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed tool_use message: %w", err)
		}
		return &m, nil
	case "tool_result":
		var m ToolResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed tool_result message: %w", err)
		}
		return &m, nil
	case "result":
		var m ResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed result message: %w", err)
		}
		return &m, nil
	case "error":
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed error message: %w", err)
		}
		return &m, nil
	default:
		return &UnknownMessage{Kind: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// Stream is one task invocation's asynchronous message sequence.
// Next returns io.EOF when the stream is logically closed.
type Stream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Options configures a single agent invocation.
type Options struct {
	Model           string
	AllowedTools    []string
	DisallowedTools []string
	PermissionMode  string
	Workdir         string
	Hooks           *hooks.Bridge
}

// Client starts agent invocations. Implemented by CLIClient and by test
// fakes.
type Client interface {
	Run(ctx context.Context, prompt string, opts Options) (Stream, error)
}
