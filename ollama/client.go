package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mstanton/relay"
)

// Interface compliance check.
var _ relay.Provider = (*Client)(nil)

// Client implements [relay.Provider] for a local Ollama server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the server base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithModel sets the default model used when a request leaves Model empty.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new Ollama [Client] with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name used for routing and circuit breaking.
func (c *Client) Name() string { return Name }

// Ping reports whether the local server is reachable. The router calls this
// before committing to a fallback stream.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tagsPath, nil)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: server returned %d", resp.StatusCode)
	}
	return nil
}

// Stream sends a streaming chat request and returns a [relay.Stream] that
// emits semantic events.
func (c *Client) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	body, err := c.buildRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &relay.ProviderError{
			Provider:  Name,
			Message:   err.Error(),
			Transient: true,
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}

	return newStream(ctx, resp.Body), nil
}

func (c *Client) buildRequestBody(req relay.Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := chatRequest{
		Model:    model,
		Messages: convertMessages(req.SystemPrompt, req.Messages),
		Stream:   true,
		Tools:    convertTools(req.Tools),
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.Options = &chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	return json.Marshal(body)
}

func convertMessages(system string, msgs []relay.Message) []chatMessage {
	var result []chatMessage
	if system != "" {
		result = append(result, chatMessage{Role: "system", Content: system})
	}
	for _, msg := range msgs {
		switch m := msg.(type) {
		case relay.UserMessage:
			result = append(result, chatMessage{Role: "user", Content: relay.Text(m.Content)})
		case relay.AssistantMessage:
			cm := chatMessage{Role: "assistant", Content: relay.Text(m.Content)}
			for _, b := range m.Content {
				if call, ok := b.(relay.ToolCallBlock); ok {
					cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
						Function: chatFunctionCall{
							Name:      call.Name,
							Arguments: call.Arguments,
						},
					})
				}
			}
			result = append(result, cm)
		case relay.ToolResultMessage:
			result = append(result, chatMessage{Role: "tool", Content: relay.Text(m.Content)})
		}
	}
	return result
}

func convertTools(tools []relay.Tool) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]chatTool, len(tools))
	for i, t := range tools {
		result[i] = chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// parseHTTPError classifies a non-200 response. Everything from a local
// server is treated as transient except client-side request errors.
func parseHTTPError(resp *http.Response) error {
	pe := &relay.ProviderError{
		Provider:  Name,
		Status:    resp.StatusCode,
		Transient: resp.StatusCode >= 500,
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		pe.Message = fmt.Sprintf("failed to read error body: %v", err)
		return pe
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		pe.Message = string(body)
		return pe
	}
	pe.Message = apiErr.Error
	return pe
}
