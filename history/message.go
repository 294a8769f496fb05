package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mstanton/relay"
)

// messageDTO is the JSON representation of a Message with a type discriminator.
type messageDTO struct {
	Type          string            `json:"type"`
	Content       []contentBlockDTO `json:"content"`
	Timestamp     time.Time         `json:"timestamp"`
	StopReason    *string           `json:"stop_reason,omitempty"`
	RawStopReason *string           `json:"raw_stop_reason,omitempty"`
	Usage         *usageDTO         `json:"usage,omitempty"`
	ToolCallID    *string           `json:"tool_call_id,omitempty"`
	ToolName      *string           `json:"tool_name,omitempty"`
	IsError       *bool             `json:"is_error,omitempty"`
}

// contentBlockDTO is the JSON representation of a ContentBlock with a type discriminator.
type contentBlockDTO struct {
	Type      string           `json:"type"`
	Text      *string          `json:"text,omitempty"`
	Thinking  *string          `json:"thinking,omitempty"`
	ID        *string          `json:"id,omitempty"`
	Name      *string          `json:"name,omitempty"`
	Arguments *json.RawMessage `json:"arguments,omitempty"`
}

type usageDTO struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

func marshalMessage(msg relay.Message) (messageDTO, error) {
	switch m := msg.(type) {
	case relay.UserMessage:
		blocks, err := marshalContentBlocks(m.Content)
		if err != nil {
			return messageDTO{}, err
		}
		return messageDTO{
			Type:      "user",
			Content:   blocks,
			Timestamp: m.Timestamp,
		}, nil
	case relay.AssistantMessage:
		blocks, err := marshalContentBlocks(m.Content)
		if err != nil {
			return messageDTO{}, err
		}
		sr := string(m.StopReason)
		return messageDTO{
			Type:          "assistant",
			Content:       blocks,
			Timestamp:     m.Timestamp,
			StopReason:    &sr,
			RawStopReason: &m.RawStopReason,
			Usage: &usageDTO{
				InputTokens:      m.Usage.InputTokens,
				OutputTokens:     m.Usage.OutputTokens,
				CacheReadTokens:  m.Usage.CacheReadTokens,
				CacheWriteTokens: m.Usage.CacheWriteTokens,
			},
		}, nil
	case relay.ToolResultMessage:
		blocks, err := marshalContentBlocks(m.Content)
		if err != nil {
			return messageDTO{}, err
		}
		return messageDTO{
			Type:       "tool_result",
			Content:    blocks,
			Timestamp:  m.Timestamp,
			ToolCallID: &m.ToolCallID,
			ToolName:   &m.ToolName,
			IsError:    &m.IsError,
		}, nil
	default:
		return messageDTO{}, fmt.Errorf("unknown message type: %T", msg)
	}
}

func unmarshalMessage(dto messageDTO) (relay.Message, error) {
	blocks, err := unmarshalContentBlocks(dto.Content)
	if err != nil {
		return nil, err
	}
	switch dto.Type {
	case "user":
		return relay.UserMessage{
			Content:   blocks,
			Timestamp: dto.Timestamp,
		}, nil
	case "assistant":
		var sr relay.StopReason
		if dto.StopReason != nil {
			sr = relay.StopReason(*dto.StopReason)
		}
		var rawSR string
		if dto.RawStopReason != nil {
			rawSR = *dto.RawStopReason
		}
		var usage relay.Usage
		if dto.Usage != nil {
			usage = relay.Usage{
				InputTokens:      dto.Usage.InputTokens,
				OutputTokens:     dto.Usage.OutputTokens,
				CacheReadTokens:  dto.Usage.CacheReadTokens,
				CacheWriteTokens: dto.Usage.CacheWriteTokens,
			}
		}
		return relay.AssistantMessage{
			Content:       blocks,
			StopReason:    sr,
			RawStopReason: rawSR,
			Usage:         usage,
			Timestamp:     dto.Timestamp,
		}, nil
	case "tool_result":
		var toolCallID, toolName string
		if dto.ToolCallID != nil {
			toolCallID = *dto.ToolCallID
		}
		if dto.ToolName != nil {
			toolName = *dto.ToolName
		}
		var isError bool
		if dto.IsError != nil {
			isError = *dto.IsError
		}
		return relay.ToolResultMessage{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Content:    blocks,
			IsError:    isError,
			Timestamp:  dto.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", dto.Type)
	}
}

func marshalContentBlocks(blocks []relay.ContentBlock) ([]contentBlockDTO, error) {
	result := make([]contentBlockDTO, len(blocks))
	for i, b := range blocks {
		cb, err := marshalContentBlock(b)
		if err != nil {
			return nil, fmt.Errorf("content block %d: %w", i, err)
		}
		result[i] = cb
	}
	return result, nil
}

func marshalContentBlock(b relay.ContentBlock) (contentBlockDTO, error) {
	switch v := b.(type) {
	case relay.TextBlock:
		return contentBlockDTO{Type: "text", Text: &v.Text}, nil
	case relay.ThinkingBlock:
		return contentBlockDTO{Type: "thinking", Thinking: &v.Thinking}, nil
	case relay.ToolCallBlock:
		args := v.Arguments
		return contentBlockDTO{Type: "tool_call", ID: &v.ID, Name: &v.Name, Arguments: &args}, nil
	default:
		return contentBlockDTO{}, fmt.Errorf("unknown content block type: %T", b)
	}
}

func unmarshalContentBlocks(dtos []contentBlockDTO) ([]relay.ContentBlock, error) {
	result := make([]relay.ContentBlock, len(dtos))
	for i, dto := range dtos {
		b, err := unmarshalContentBlock(dto)
		if err != nil {
			return nil, fmt.Errorf("content block %d: %w", i, err)
		}
		result[i] = b
	}
	return result, nil
}

func unmarshalContentBlock(dto contentBlockDTO) (relay.ContentBlock, error) {
	switch dto.Type {
	case "text":
		var text string
		if dto.Text != nil {
			text = *dto.Text
		}
		return relay.TextBlock{Text: text}, nil
	case "thinking":
		var thinking string
		if dto.Thinking != nil {
			thinking = *dto.Thinking
		}
		return relay.ThinkingBlock{Thinking: thinking}, nil
	case "tool_call":
		var id, name string
		if dto.ID != nil {
			id = *dto.ID
		}
		if dto.Name != nil {
			name = *dto.Name
		}
		var args json.RawMessage
		if dto.Arguments != nil {
			args = *dto.Arguments
		}
		return relay.ToolCallBlock{ID: id, Name: name, Arguments: args}, nil
	default:
		return nil, fmt.Errorf("unknown content block type: %q", dto.Type)
	}
}
