package relay

// Event is a sealed interface representing a streaming event.
// Events are purely semantic. Transport/protocol errors come from
// Next()'s error return, not from events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventTextDelta represents a text content delta.
type EventTextDelta struct {
	Delta string
}

func (EventTextDelta) event() {}

// EventThinkingDelta represents a thinking content delta.
type EventThinkingDelta struct {
	Delta string
}

func (EventThinkingDelta) event() {}

// EventToolCallBegin signals the start of a tool call.
type EventToolCallBegin struct {
	ID   string
	Name string
}

func (EventToolCallBegin) event() {}

// EventToolCallDelta represents an argument delta for a tool call.
type EventToolCallDelta struct {
	ID    string
	Delta string
}

func (EventToolCallDelta) event() {}

// EventToolCallEnd signals the completion of a tool call with the assembled block.
type EventToolCallEnd struct {
	Call ToolCallBlock
}

func (EventToolCallEnd) event() {}

// EventToolResult carries the text outcome of an executed tool back to
// the event consumer. Emitted by the agent loop, never by providers.
type EventToolResult struct {
	ID       string
	ToolName string
	Content  string
	IsError  bool
}

func (EventToolResult) event() {}

// EventToolTurnComplete signals that every tool call requested in the
// current assistant turn has executed and its results were appended to
// the conversation. Emitted once per tool-using turn, after the last
// EventToolResult. AssistantBlocks are the content blocks of the
// assistant message that requested the tools; ToolResults are the
// paired results in call order, so consumers can persist the full turn.
type EventToolTurnComplete struct {
	Iteration       int
	AssistantBlocks []ContentBlock
	ToolResults     []ToolResultMessage
}

func (EventToolTurnComplete) event() {}

// Interface compliance checks.
var (
	_ Event = EventTextDelta{}
	_ Event = EventThinkingDelta{}
	_ Event = EventToolCallBegin{}
	_ Event = EventToolCallDelta{}
	_ Event = EventToolCallEnd{}
	_ Event = EventToolResult{}
	_ Event = EventToolTurnComplete{}
)
