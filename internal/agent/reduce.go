// internal/agent/reduce.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/logging"
)

// Reduce drains one task invocation's message stream to exactly one of a
// success value or an error.
//
// The first result message with subtype "success" wins: its payload is
// captured and consumption stops even if the stream keeps emitting cleanup
// noise. A stream fault arriving after capture is suppressed: the captured
// flag, not catch ordering, decides whether a late fault is promoted to a
// real failure. Any other result subtype, a protocol error message, or a
// fault before capture aborts the task. A stream that closes without any
// result is itself a failure.
func Reduce(ctx context.Context, stream Stream, log *logging.Logger) (string, error) {
	var (
		captured bool
		result   string
	)

	drainErr := func() error {
		for {
			msg, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					if captured {
						return nil
					}
					return ErrNoResult
				}
				return fmt.Errorf("agent stream: %w", err)
			}

			switch m := msg.(type) {
			case *ResultMessage:
				if m.Subtype == ResultSubtypeSuccess {
					result = m.Result
					captured = true
					log.Info(ctx, "task result captured", zap.Int("result_len", len(m.Result)))
					return nil
				}
				return &TaskError{Subtype: m.Subtype}

			case *ErrorMessage:
				return &ProtocolError{
					StatusCode: m.StatusCode,
					ErrorType:  m.ErrorType,
					Cause:      m.Cause,
				}

			case *AssistantMessage:
				log.Debug(ctx, "assistant output", zap.Int("len", len(m.Text)))

			case *ToolUseMessage:
				log.Debug(ctx, "tool invocation",
					zap.String("tool", m.ToolName),
					zap.String("tool_use_id", m.ToolUseID),
				)

			case *ToolResultMessage:
				log.Debug(ctx, "tool result", zap.String("tool_use_id", m.ToolUseID))

			default:
				if u, ok := m.(*UnknownMessage); ok {
					log.Debug(ctx, "unrecognized message type", zap.String("kind", u.Kind))
				}
			}
		}
	}()

	closeErr := stream.Close()

	if drainErr != nil {
		return "", drainErr
	}
	if closeErr != nil {
		if captured {
			// Expected boundary cleanup noise after success; the result
			// stands.
			log.Warn(ctx, "stream fault after success suppressed", zap.Error(closeErr))
			return result, nil
		}
		return "", fmt.Errorf("agent stream close: %w", closeErr)
	}
	return result, nil
}
