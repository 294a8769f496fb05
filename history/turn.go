package history

import (
	"encoding/json"
	"fmt"

	"github.com/mstanton/relay"
)

// ToolTurn is the minimal payload a history consumer needs to
// reconstruct one completed tool-using turn: the assistant's content
// blocks and the paired tool results.
type ToolTurn struct {
	AssistantBlocks []relay.ContentBlock
	ToolResults     []relay.ToolResultMessage
}

// ToolTurnFromEvent builds the persistable turn from the completion
// event the agent loop emits after the last tool result.
func ToolTurnFromEvent(e relay.EventToolTurnComplete) ToolTurn {
	return ToolTurn{
		AssistantBlocks: e.AssistantBlocks,
		ToolResults:     e.ToolResults,
	}
}

// toolTurnDTO is the v1 wire format for a persisted tool turn.
type toolTurnDTO struct {
	Version         int               `json:"version"`
	AssistantBlocks []contentBlockDTO `json:"assistant_blocks"`
	ToolResults     []messageDTO      `json:"tool_results"`
}

// MarshalToolTurn serializes a ToolTurn to JSON in v1 format.
func MarshalToolTurn(t ToolTurn) ([]byte, error) {
	blocks, err := marshalContentBlocks(t.AssistantBlocks)
	if err != nil {
		return nil, fmt.Errorf("assistant blocks: %w", err)
	}
	dto := toolTurnDTO{
		Version:         1,
		AssistantBlocks: blocks,
		ToolResults:     make([]messageDTO, len(t.ToolResults)),
	}
	for i, tr := range t.ToolResults {
		m, err := marshalMessage(tr)
		if err != nil {
			return nil, fmt.Errorf("tool result %d: %w", i, err)
		}
		dto.ToolResults[i] = m
	}
	return json.Marshal(dto)
}

// UnmarshalToolTurn deserializes a ToolTurn from JSON in v1 format.
func UnmarshalToolTurn(data []byte) (ToolTurn, error) {
	var dto toolTurnDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return ToolTurn{}, fmt.Errorf("unmarshal tool turn: %w", err)
	}
	if dto.Version != 1 {
		return ToolTurn{}, fmt.Errorf("unsupported tool turn version: %d", dto.Version)
	}
	blocks, err := unmarshalContentBlocks(dto.AssistantBlocks)
	if err != nil {
		return ToolTurn{}, fmt.Errorf("assistant blocks: %w", err)
	}
	turn := ToolTurn{AssistantBlocks: blocks}
	for i, m := range dto.ToolResults {
		msg, err := unmarshalMessage(m)
		if err != nil {
			return ToolTurn{}, fmt.Errorf("tool result %d: %w", i, err)
		}
		tr, ok := msg.(relay.ToolResultMessage)
		if !ok {
			return ToolTurn{}, fmt.Errorf("tool result %d: unexpected message type %q", i, m.Type)
		}
		turn.ToolResults = append(turn.ToolResults, tr)
	}
	return turn, nil
}
