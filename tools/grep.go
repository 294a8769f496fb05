package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mstanton/relay"
)

// maxGrepMatches caps the result size sent back to the model.
const maxGrepMatches = 1000

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Glob    string `json:"glob"`
}

func grepTool() relay.Tool {
	return relay.Tool{
		Name:        "grep",
		Description: "Search file contents with a regular expression. Returns matching lines as file:line:content.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "Regular expression pattern to search for"
				},
				"path": {
					"type": "string",
					"description": "File or directory to search in"
				},
				"glob": {
					"type": "string",
					"description": "Glob pattern to filter files (e.g. **/*.go)"
				}
			},
			"required": ["pattern", "path"]
		}`),
	}
}

func executeGrep(_ context.Context, args json.RawMessage) (*relay.ToolResult, error) {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domainError(fmt.Sprintf("invalid arguments: %s", err)), nil
	}
	if a.Pattern == "" {
		return domainError("pattern is required"), nil
	}

	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return domainError(fmt.Sprintf("invalid regex pattern: %s", err)), nil
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return domainError(fmt.Sprintf("failed to access path: %s", err)), nil
	}

	g := grepper{re: re}
	if !info.IsDir() {
		g.file(a.Path, filepath.Dir(a.Path))
	} else {
		walkErr := filepath.WalkDir(a.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if g.full() {
				return fs.SkipAll
			}
			if a.Glob != "" {
				rel, relErr := filepath.Rel(a.Path, path)
				if relErr != nil {
					return nil
				}
				matched, matchErr := doublestar.Match(a.Glob, filepath.ToSlash(rel))
				if matchErr != nil || !matched {
					return nil
				}
			}
			g.file(path, a.Path)
			return nil
		})
		if walkErr != nil {
			return domainError(fmt.Sprintf("error walking directory: %s", walkErr)), nil
		}
	}

	if g.matches == 0 {
		return textResult("no matches found"), nil
	}
	if g.full() {
		fmt.Fprintf(&g.out, "... results capped at %d matches ...\n", maxGrepMatches)
	}
	return textResult(g.out.String()), nil
}

type grepper struct {
	re      *regexp.Regexp
	out     strings.Builder
	matches int
}

func (g *grepper) full() bool { return g.matches >= maxGrepMatches }

// file scans one file, skipping binaries detected by a NUL byte in the
// first 512 bytes. Read errors produce partial results, like grep on
// oversized lines.
func (g *grepper) file(path, basePath string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	header := make([]byte, 512)
	n, _ := f.Read(header)
	if n == 0 {
		return
	}
	if bytes.ContainsRune(header[:n], 0) {
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		return
	}

	relPath, err := filepath.Rel(basePath, path)
	if err != nil {
		relPath = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if g.re.MatchString(line) {
			fmt.Fprintf(&g.out, "%s:%d:%s\n", relPath, lineNum, line)
			g.matches++
			if g.full() {
				return
			}
		}
	}
}
