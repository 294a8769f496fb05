package relay

import "fmt"

// Request carries model selection and generation parameters.
// The provider uses its own defaults when fields are zero/nil.
type Request struct {
	Model        string // model ID, provider-specific; empty = provider default
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	MaxTokens    int      // 0 = provider default
	Temperature  *float64 // nil = provider default
}

// Validate checks universal constraints on Request.
// Provider implementations may apply additional provider-specific validation.
func (r Request) Validate() error {
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return fmt.Errorf("temperature must be in [0, 2], got %g: %w", *r.Temperature, ErrValidation)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d: %w", r.MaxTokens, ErrValidation)
	}
	return nil
}

// EstimatedTokens approximates the prompt size as total characters
// divided by four. It counts the system prompt plus the text, thinking,
// and tool-related content of every message. The estimate feeds routing
// thresholds and cache gating; it never needs to be exact.
func (r Request) EstimatedTokens() int {
	chars := len(r.SystemPrompt)
	for _, msg := range r.Messages {
		switch m := msg.(type) {
		case UserMessage:
			chars += blockChars(m.Content)
		case AssistantMessage:
			chars += blockChars(m.Content)
		case ToolResultMessage:
			chars += blockChars(m.Content)
		}
	}
	return chars / 4
}

func blockChars(blocks []ContentBlock) int {
	var n int
	for _, b := range blocks {
		switch blk := b.(type) {
		case TextBlock:
			n += len(blk.Text)
		case ThinkingBlock:
			n += len(blk.Thinking)
		case ToolCallBlock:
			n += len(blk.Name) + len(blk.Arguments)
		}
	}
	return n
}
