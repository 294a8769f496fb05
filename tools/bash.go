package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/mstanton/relay"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashOutput      = 100 * 1024
)

type bashArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"` // milliseconds
}

func bashTool() relay.Tool {
	return relay.Tool{
		Name:        "bash",
		Description: "Execute a bash command and return its combined output.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "The bash command to execute"
				},
				"timeout": {
					"type": "integer",
					"description": "Timeout in milliseconds (default: 120000)"
				}
			},
			"required": ["command"]
		}`),
	}
}

func executeBash(ctx context.Context, args json.RawMessage) (*relay.ToolResult, error) {
	var a bashArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domainError(fmt.Sprintf("invalid arguments: %s", err)), nil
	}
	if a.Command == "" {
		return domainError("command is required"), nil
	}

	timeout := defaultBashTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", a.Command)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := truncate(buf.String())

	if ctx.Err() != nil {
		return domainError(fmt.Sprintf("command timed out or cancelled: %s\n%s", ctx.Err(), output)), nil
	}
	if err != nil {
		return &relay.ToolResult{
			Content: []relay.ContentBlock{relay.TextBlock{Text: output + err.Error()}},
			IsError: true,
		}, nil
	}
	return textResult(output), nil
}

func truncate(s string) string {
	if len(s) <= maxBashOutput {
		return s
	}
	return s[:maxBashOutput] + "\n... output truncated ...\n"
}
