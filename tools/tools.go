// Package tools provides a compact built-in tool set for the agent
// loop: read, glob, grep, and bash.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mstanton/relay"
)

// Compile-time interface check.
var _ relay.ToolExecutor = (*Executor)(nil)

// Executor dispatches tool calls to the built-in implementations.
type Executor struct{}

// NewExecutor creates a new Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Execute dispatches a tool call by name. Unknown tool names return an
// IsError result so the model can self-correct.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
	switch name {
	case "read":
		return executeRead(ctx, args)
	case "glob":
		return executeGlob(ctx, args)
	case "grep":
		return executeGrep(ctx, args)
	case "bash":
		return executeBash(ctx, args)
	default:
		return domainError(fmt.Sprintf("unknown tool: %s", name)), nil
	}
}

// Definitions returns the tool definitions for all built-in tools.
func (e *Executor) Definitions() []relay.Tool {
	return []relay.Tool{
		readTool(),
		globTool(),
		grepTool(),
		bashTool(),
	}
}

func domainError(msg string) *relay.ToolResult {
	return &relay.ToolResult{
		Content: []relay.ContentBlock{relay.TextBlock{Text: msg}},
		IsError: true,
	}
}

func textResult(text string) *relay.ToolResult {
	return &relay.ToolResult{
		Content: []relay.ContentBlock{relay.TextBlock{Text: text}},
	}
}
