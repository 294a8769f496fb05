package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mstanton/relay"
	"github.com/mstanton/relay/retry"
)

// Interface compliance check.
var _ relay.Provider = (*Client)(nil)

// Client implements [relay.Provider] for the Mistral chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      retry.Policy
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithModel sets the default model ID used when a request leaves Model empty.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// New creates a new Mistral [Client] with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
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

// Stream sends a streaming request to the chat completions API and returns
// a [relay.Stream] that emits semantic events. Rate-limit and overload
// responses are retried per the client's retry policy before giving up.
func (c *Client) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	body, err := c.buildRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("mistral: %w", err)
	}

	return c.retry.Stream(ctx, func() (relay.Stream, error) {
		return c.attempt(ctx, body)
	})
}

func (c *Client) attempt(ctx context.Context, body []byte) (relay.Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mistral: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mistral: %w", err)
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
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return json.Marshal(chatRequest{
		Model:       model,
		Messages:    convertMessages(req.SystemPrompt, req.Messages),
		Stream:      true,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Tools:       convertTools(req.Tools),
	})
}

// convertMessages flattens relay messages into the OpenAI-compatible chat
// shape. The system prompt becomes a leading system message; tool results
// become role "tool" messages correlated by tool_call_id.
func convertMessages(system string, msgs []relay.Message) []chatMessage {
	var result []chatMessage
	if system != "" {
		result = append(result, chatMessage{Role: "system", Content: system})
	}
	for _, msg := range msgs {
		switch m := msg.(type) {
		case relay.UserMessage:
			result = append(result, chatMessage{
				Role:    "user",
				Content: relay.Text(m.Content),
			})
		case relay.AssistantMessage:
			cm := chatMessage{
				Role:    "assistant",
				Content: relay.Text(m.Content),
			}
			for _, b := range m.Content {
				if call, ok := b.(relay.ToolCallBlock); ok {
					cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
						ID:   call.ID,
						Type: "function",
						Function: chatFunctionCall{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					})
				}
			}
			result = append(result, cm)
		case relay.ToolResultMessage:
			result = append(result, chatMessage{
				Role:       "tool",
				Content:    relay.Text(m.Content),
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
			})
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

// parseHTTPError classifies a non-200 response into a typed provider
// error: 429 is rate-limited, 5xx is transient, anything else is
// permanent.
func parseHTTPError(resp *http.Response) error {
	pe := &relay.ProviderError{
		Provider:    Name,
		Status:      resp.StatusCode,
		RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		Transient:   resp.StatusCode >= 500,
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		pe.Message = fmt.Sprintf("failed to read error body: %v", err)
		return pe
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		pe.Message = string(body)
		return pe
	}
	pe.Message = apiErr.Message
	return pe
}
