// Package agent implements the bounded tool-use loop between a provider
// and a tool executor.
package agent

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/mstanton/relay"
)

// DefaultMaxIterations bounds provider round-trips per Run. When the bound
// is reached the loop stops without error, leaving the last assistant
// message as the final answer.
const DefaultMaxIterations = 5

// Loop orchestrates the conversation between a Provider and a ToolExecutor.
type Loop struct {
	provider relay.Provider
	executor relay.ToolExecutor
}

// NewLoop creates a new Loop with the given provider and tool executor.
func NewLoop(provider relay.Provider, executor relay.ToolExecutor) *Loop {
	return &Loop{provider: provider, executor: executor}
}

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

type runConfig struct {
	onEvent       func(relay.Event)
	model         string
	maxIterations int
	usageSink     *relay.Usage
}

// WithEventHandler sets a callback that receives each streaming event during
// the run. If nil or not set, events are silently discarded.
func WithEventHandler(h func(relay.Event)) RunOption {
	return func(c *runConfig) {
		c.onEvent = h
	}
}

// WithModel sets the model ID for provider requests during this run.
// Empty string means the provider uses its default model.
func WithModel(model string) RunOption {
	return func(c *runConfig) {
		c.model = model
	}
}

// WithMaxIterations overrides the provider round-trip bound for this run.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithUsageSink accumulates the token usage of every assistant turn into
// sink, including turns that ended in a partial message.
func WithUsageSink(sink *relay.Usage) RunOption {
	return func(c *runConfig) {
		c.usageSink = sink
	}
}

// Run executes the agent loop. It sends the session's messages to the
// provider, streams the response, executes any tool calls, and repeats until
// the assistant stops requesting tools or the iteration bound is reached.
// It appends all messages to session.Messages.
func (l *Loop) Run(ctx context.Context, session *relay.Session, tools []relay.Tool, opts ...RunOption) error {
	cfg := runConfig{maxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(&cfg)
	}
	for iter := 1; iter <= cfg.maxIterations; iter++ {
		cont, err := l.turn(ctx, session, tools, &cfg, iter)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// turn executes a single turn of the conversation loop. It returns true if
// the loop should continue (tool calls were made), false if it should stop.
func (l *Loop) turn(ctx context.Context, session *relay.Session, tools []relay.Tool, cfg *runConfig, iter int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	req := relay.Request{
		Model:        cfg.model,
		SystemPrompt: session.SystemPrompt,
		Messages:     session.Messages,
		Tools:        tools,
	}

	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	// Drain the stream, forwarding events to handler if set.
	var streamErr error
	for {
		evt, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if cfg.onEvent != nil {
			cfg.onEvent(evt)
		}
	}

	// Get the assembled message (partial or complete).
	msg, msgErr := stream.Message()
	if msgErr != nil {
		if streamErr != nil {
			return false, streamErr
		}
		return false, msgErr
	}

	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = time.Now()
	if cfg.usageSink != nil {
		cfg.usageSink.Add(msg.Usage)
	}

	if streamErr != nil {
		return false, streamErr
	}

	// Extract tool calls from the response.
	var toolCalls []relay.ToolCallBlock
	for _, block := range msg.Content {
		if tc, ok := block.(relay.ToolCallBlock); ok {
			toolCalls = append(toolCalls, tc)
		}
	}

	// The assistant must both emit tool calls and stop for them;
	// stray ToolCallBlocks in an end_turn message are not executed.
	if len(toolCalls) == 0 || msg.StopReason != relay.StopToolUse {
		return false, nil
	}

	// Execute each tool call and append results to the session.
	results := make([]relay.ToolResultMessage, 0, len(toolCalls))
	for _, tc := range toolCalls {
		result, execErr := l.executor.Execute(ctx, tc.Name, tc.Arguments)
		if execErr != nil {
			result = &relay.ToolResult{
				Content: []relay.ContentBlock{relay.TextBlock{Text: execErr.Error()}},
				IsError: true,
			}
		}

		trm := relay.ToolResultMessage{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    result.Content,
			IsError:    result.IsError,
			Timestamp:  time.Now(),
		}
		session.Messages = append(session.Messages, trm)
		results = append(results, trm)

		if cfg.onEvent != nil {
			// Only text content is surfaced in the event; one event
			// per executed call even when the result has no text.
			var sb strings.Builder
			for _, b := range result.Content {
				if tb, ok := b.(relay.TextBlock); ok {
					if sb.Len() > 0 {
						sb.WriteByte('\n')
					}
					sb.WriteString(tb.Text)
				}
			}
			cfg.onEvent(relay.EventToolResult{
				ID:       tc.ID,
				ToolName: tc.Name,
				Content:  sb.String(),
				IsError:  result.IsError,
			})
		}
	}
	session.UpdatedAt = time.Now()

	if cfg.onEvent != nil {
		cfg.onEvent(relay.EventToolTurnComplete{
			Iteration:       iter,
			AssistantBlocks: msg.Content,
			ToolResults:     results,
		})
	}

	return true, nil
}
