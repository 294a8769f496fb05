package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mstanton/relay"
)

// defaultReadLimit bounds how many lines one read returns.
const defaultReadLimit = 2000

type readArgs struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"` // 1-based starting line
	Limit    int    `json:"limit"`
}

func readTool() relay.Tool {
	return relay.Tool{
		Name:        "read",
		Description: "Read the contents of a file with line numbers, optionally from a starting line with a line limit.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {
					"type": "string",
					"description": "The path to the file to read"
				},
				"offset": {
					"type": "integer",
					"description": "Line number to start reading from (1-based)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum number of lines to read (default 2000)"
				}
			},
			"required": ["file_path"]
		}`),
	}
}

func executeRead(_ context.Context, args json.RawMessage) (*relay.ToolResult, error) {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domainError(fmt.Sprintf("invalid arguments: %s", err)), nil
	}
	if a.FilePath == "" {
		return domainError("file_path is required"), nil
	}

	f, err := os.Open(a.FilePath)
	if err != nil {
		return domainError(fmt.Sprintf("failed to open file: %s", err)), nil
	}
	defer f.Close()

	limit := a.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	linesRead := 0
	truncated := false

	for scanner.Scan() {
		lineNum++
		if a.Offset > 0 && lineNum < a.Offset {
			continue
		}
		if linesRead >= limit {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "%d\t%s\n", lineNum, scanner.Text())
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return domainError(fmt.Sprintf("error reading file: %s", err)), nil
	}
	if truncated {
		fmt.Fprintf(&b, "... truncated at %d lines ...\n", limit)
	}

	return textResult(b.String()), nil
}
