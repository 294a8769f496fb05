// Package ollama implements [relay.Provider] for a local Ollama server.
//
// Ollama is the router's fallback of last resort, so the client carries no
// retry policy: a failure here means the local server is down and the
// request cannot be served. Streaming uses the /api/chat endpoint, which
// returns newline-delimited JSON chunks rather than SSE.
package ollama

import "encoding/json"

// Name is the provider name used for routing and circuit breaking.
const Name = "ollama"

const (
	// Explicit IPv4 loopback avoids IPv6 resolution issues with "localhost"
	// on some hosts.
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "llama3.1:8b"

	chatPath = "/api/chat"
	tagsPath = "/api/tags"
)

// chatRequest is the request body for the /api/chat endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// chatChunk is one NDJSON line of a streaming /api/chat response.
type chatChunk struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}
