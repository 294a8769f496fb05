package relay_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mstanton/relay"
	"github.com/stretchr/testify/assert"
)

func TestMessage_Role(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  relay.Message
		want relay.Role
	}{
		{"UserMessage", relay.UserMessage{}, relay.RoleUser},
		{"AssistantMessage", relay.AssistantMessage{}, relay.RoleAssistant},
		{"ToolResultMessage", relay.ToolResultMessage{}, relay.RoleToolResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.msg.Role())
		})
	}
}

func TestMessageTypeSwitch_Exhaustive(t *testing.T) {
	t.Parallel()
	messages := []relay.Message{
		relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "hello"}}, Timestamp: time.Now()},
		relay.AssistantMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "hi"}}},
		relay.ToolResultMessage{ToolCallID: "tc_1", ToolName: "read"},
	}
	for _, msg := range messages {
		switch msg.(type) {
		case relay.UserMessage:
		case relay.AssistantMessage:
		case relay.ToolResultMessage:
		default:
			t.Fatalf("unexpected message type: %T", msg)
		}
	}
}

func TestContentBlockTypeSwitch_Exhaustive(t *testing.T) {
	t.Parallel()
	blocks := []relay.ContentBlock{
		relay.TextBlock{Text: "hello"},
		relay.ThinkingBlock{Thinking: "reasoning"},
		relay.ToolCallBlock{ID: "tc_1", Name: "read", Arguments: json.RawMessage(`{}`)},
	}
	for _, block := range blocks {
		switch block.(type) {
		case relay.TextBlock:
		case relay.ThinkingBlock:
		case relay.ToolCallBlock:
		default:
			t.Fatalf("unexpected content block type: %T", block)
		}
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	t.Run("concatenates text blocks with newlines", func(t *testing.T) {
		t.Parallel()
		got := relay.Text([]relay.ContentBlock{
			relay.TextBlock{Text: "first"},
			relay.ThinkingBlock{Thinking: "skipped"},
			relay.TextBlock{Text: "second"},
		})
		assert.Equal(t, "first\nsecond", got)
	})

	t.Run("empty content yields empty string", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "", relay.Text(nil))
	})
}
