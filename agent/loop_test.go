package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstanton/relay"
	"github.com/mstanton/relay/agent"
	"github.com/mstanton/relay/mock"
)

// scriptedStream returns a mock stream that yields the given events in
// order, then io.EOF, and returns msg from Message.
func scriptedStream(events []relay.Event, msg relay.AssistantMessage) *mock.Stream {
	i := 0
	return &mock.Stream{
		NextFn: func() (relay.Event, error) {
			if i >= len(events) {
				return nil, io.EOF
			}
			e := events[i]
			i++
			return e, nil
		},
		StateFn:   func() relay.StreamState { return relay.StreamStateComplete },
		MessageFn: func() (relay.AssistantMessage, error) { return msg, nil },
	}
}

func textTurn(text string) *mock.Stream {
	return scriptedStream(
		[]relay.Event{relay.EventTextDelta{Delta: text}},
		relay.AssistantMessage{
			Content:    []relay.ContentBlock{relay.TextBlock{Text: text}},
			StopReason: relay.StopEndTurn,
		},
	)
}

func toolTurn(calls ...relay.ToolCallBlock) *mock.Stream {
	var events []relay.Event
	var content []relay.ContentBlock
	for _, c := range calls {
		events = append(events,
			relay.EventToolCallBegin{ID: c.ID, Name: c.Name},
			relay.EventToolCallEnd{Call: c},
		)
		content = append(content, c)
	}
	return scriptedStream(events, relay.AssistantMessage{
		Content:    content,
		StopReason: relay.StopToolUse,
	})
}

func okExecutor(text string) *mock.ToolExecutor {
	return &mock.ToolExecutor{
		ExecuteFn: func(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
			return &relay.ToolResult{
				Content: []relay.ContentBlock{relay.TextBlock{Text: text}},
			}, nil
		},
	}
}

func TestLoop_SingleTextTurn(t *testing.T) {
	t.Parallel()

	calls := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			calls++
			return textTurn("Hello there."), nil
		},
	}

	session := &relay.Session{
		SystemPrompt: "Be helpful.",
		Messages: []relay.Message{
			relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "Hi"}}},
		},
	}

	var events []relay.Event
	loop := agent.NewLoop(provider, okExecutor(""))
	err := loop.Run(context.Background(), session, nil, agent.WithEventHandler(func(e relay.Event) {
		events = append(events, e)
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, session.Messages, 2)
	msg, ok := session.Messages[1].(relay.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "Hello there.", relay.Text(msg.Content))
	assert.False(t, session.UpdatedAt.IsZero())

	require.Len(t, events, 1)
	assert.Equal(t, relay.EventTextDelta{Delta: "Hello there."}, events[0])
}

func TestLoop_RequestFields(t *testing.T) {
	t.Parallel()

	tools := []relay.Tool{{Name: "read_file", Description: "Read a file."}}
	var got relay.Request
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			got = req
			return textTurn("ok"), nil
		},
	}

	session := &relay.Session{
		SystemPrompt: "Be terse.",
		Messages: []relay.Message{
			relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "go"}}},
		},
	}

	loop := agent.NewLoop(provider, okExecutor(""))
	err := loop.Run(context.Background(), session, tools, agent.WithModel("some-model"))
	require.NoError(t, err)

	assert.Equal(t, "some-model", got.Model)
	assert.Equal(t, "Be terse.", got.SystemPrompt)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, tools, got.Tools)
}

func TestLoop_ToolTurnOrdering(t *testing.T) {
	t.Parallel()

	call1 := relay.ToolCallBlock{ID: "tc_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)}
	call2 := relay.ToolCallBlock{ID: "tc_2", Name: "read_file", Arguments: json.RawMessage(`{"path":"b.go"}`)}

	turn := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			turn++
			if turn == 1 {
				return toolTurn(call1, call2), nil
			}
			return textTurn("Done."), nil
		},
	}

	session := &relay.Session{Messages: []relay.Message{
		relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "read both"}}},
	}}

	var events []relay.Event
	loop := agent.NewLoop(provider, okExecutor("file contents"))
	err := loop.Run(context.Background(), session, nil, agent.WithEventHandler(func(e relay.Event) {
		events = append(events, e)
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, turn)

	// user, assistant(tool calls), two tool results, assistant(text)
	require.Len(t, session.Messages, 5)
	tr1, ok := session.Messages[2].(relay.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "tc_1", tr1.ToolCallID)
	assert.Equal(t, "read_file", tr1.ToolName)
	assert.Equal(t, "file contents", relay.Text(tr1.Content))
	assert.False(t, tr1.IsError)
	tr2, ok := session.Messages[3].(relay.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "tc_2", tr2.ToolCallID)

	// Both tool results, then exactly one turn-complete marker, before the
	// second turn's text delta.
	require.Len(t, events, 8)
	assert.Equal(t, relay.EventToolResult{ID: "tc_1", ToolName: "read_file", Content: "file contents"}, events[4])
	assert.Equal(t, relay.EventToolResult{ID: "tc_2", ToolName: "read_file", Content: "file contents"}, events[5])
	assert.Equal(t, relay.EventTextDelta{Delta: "Done."}, events[7])

	// The turn-complete marker carries the whole turn so a consumer can
	// persist it without reassembling from deltas.
	done, ok := events[6].(relay.EventToolTurnComplete)
	require.True(t, ok)
	assert.Equal(t, 1, done.Iteration)
	assert.Equal(t, []relay.ContentBlock{call1, call2}, done.AssistantBlocks)
	require.Len(t, done.ToolResults, 2)
	assert.Equal(t, tr1, done.ToolResults[0])
	assert.Equal(t, tr2, done.ToolResults[1])
}

func TestLoop_ExecutorError(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc_1", Name: "bash", Arguments: json.RawMessage(`{"command":"ls"}`)}
	turn := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			turn++
			if turn == 1 {
				return toolTurn(call), nil
			}
			return textTurn("Recovered."), nil
		},
	}
	executor := &mock.ToolExecutor{
		ExecuteFn: func(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
			return nil, errors.New("command not permitted")
		},
	}

	session := &relay.Session{Messages: []relay.Message{
		relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "run ls"}}},
	}}

	var events []relay.Event
	loop := agent.NewLoop(provider, executor)
	err := loop.Run(context.Background(), session, nil, agent.WithEventHandler(func(e relay.Event) {
		events = append(events, e)
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, turn)

	tr, ok := session.Messages[2].(relay.ToolResultMessage)
	require.True(t, ok)
	assert.True(t, tr.IsError)
	assert.Equal(t, "command not permitted", relay.Text(tr.Content))

	var resultEvents []relay.EventToolResult
	for _, e := range events {
		if re, ok := e.(relay.EventToolResult); ok {
			resultEvents = append(resultEvents, re)
		}
	}
	require.Len(t, resultEvents, 1)
	assert.True(t, resultEvents[0].IsError)
	assert.Equal(t, "command not permitted", resultEvents[0].Content)
}

func TestLoop_IterationBound(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc", Name: "glob", Arguments: json.RawMessage(`{}`)}
	calls := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			calls++
			return toolTurn(call), nil
		},
	}

	session := &relay.Session{Messages: []relay.Message{
		relay.UserMessage{Content: []relay.ContentBlock{relay.TextBlock{Text: "loop forever"}}},
	}}

	loop := agent.NewLoop(provider, okExecutor("result"))
	err := loop.Run(context.Background(), session, nil)
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultMaxIterations, calls)
}

func TestLoop_WithMaxIterations(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc", Name: "glob", Arguments: json.RawMessage(`{}`)}
	calls := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			calls++
			return toolTurn(call), nil
		},
	}

	session := &relay.Session{}
	loop := agent.NewLoop(provider, okExecutor("result"))
	err := loop.Run(context.Background(), session, nil, agent.WithMaxIterations(2))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLoop_UsageSink(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc", Name: "glob", Arguments: json.RawMessage(`{}`)}
	turn := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			turn++
			if turn == 1 {
				s := toolTurn(call)
				s.MessageFn = func() (relay.AssistantMessage, error) {
					return relay.AssistantMessage{
						Content:    []relay.ContentBlock{call},
						StopReason: relay.StopToolUse,
						Usage:      relay.Usage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 30},
					}, nil
				}
				return s, nil
			}
			s := textTurn("Done.")
			s.MessageFn = func() (relay.AssistantMessage, error) {
				return relay.AssistantMessage{
					Content:    []relay.ContentBlock{relay.TextBlock{Text: "Done."}},
					StopReason: relay.StopEndTurn,
					Usage:      relay.Usage{InputTokens: 150, OutputTokens: 10, CacheReadTokens: 40},
				}, nil
			}
			return s, nil
		},
	}

	session := &relay.Session{}
	var usage relay.Usage
	loop := agent.NewLoop(provider, okExecutor("ok"))
	err := loop.Run(context.Background(), session, nil, agent.WithUsageSink(&usage))
	require.NoError(t, err)

	assert.Equal(t, relay.Usage{InputTokens: 250, OutputTokens: 30, CacheReadTokens: 70}, usage)
}

func TestLoop_StreamErrorAppendsPartial(t *testing.T) {
	t.Parallel()

	streamErr := errors.New("connection reset")
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			i := 0
			return &mock.Stream{
				NextFn: func() (relay.Event, error) {
					if i == 0 {
						i++
						return relay.EventTextDelta{Delta: "partial"}, nil
					}
					return nil, streamErr
				},
				MessageFn: func() (relay.AssistantMessage, error) {
					return relay.AssistantMessage{
						Content:    []relay.ContentBlock{relay.TextBlock{Text: "partial"}},
						StopReason: relay.StopError,
					}, nil
				},
			}, nil
		},
	}

	session := &relay.Session{}
	loop := agent.NewLoop(provider, okExecutor(""))
	err := loop.Run(context.Background(), session, nil)
	require.ErrorIs(t, err, streamErr)

	// Partial message is preserved in the session.
	require.Len(t, session.Messages, 1)
	msg, ok := session.Messages[0].(relay.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "partial", relay.Text(msg.Content))
	assert.Equal(t, relay.StopError, msg.StopReason)
}

func TestLoop_ProviderError(t *testing.T) {
	t.Parallel()

	provErr := errors.New("no provider available")
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			return nil, provErr
		},
	}

	session := &relay.Session{}
	loop := agent.NewLoop(provider, okExecutor(""))
	err := loop.Run(context.Background(), session, nil)
	require.ErrorIs(t, err, provErr)
	assert.Empty(t, session.Messages)
}

func TestLoop_ContextCancelled(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			t.Fatal("provider should not be called")
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &relay.Session{}
	loop := agent.NewLoop(provider, okExecutor(""))
	err := loop.Run(ctx, session, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoop_ToolResultEventEmptyContent(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc_1", Name: "touch", Arguments: json.RawMessage(`{}`)}
	turn := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			turn++
			if turn == 1 {
				return toolTurn(call), nil
			}
			return textTurn("Created."), nil
		},
	}
	executor := &mock.ToolExecutor{
		ExecuteFn: func(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
			return &relay.ToolResult{}, nil
		},
	}

	session := &relay.Session{}
	var events []relay.Event
	loop := agent.NewLoop(provider, executor)
	err := loop.Run(context.Background(), session, nil, agent.WithEventHandler(func(e relay.Event) {
		events = append(events, e)
	}))
	require.NoError(t, err)

	// Every executed call produces exactly one result event, even when
	// the tool returned no text.
	var resultEvents []relay.EventToolResult
	for _, e := range events {
		if re, ok := e.(relay.EventToolResult); ok {
			resultEvents = append(resultEvents, re)
		}
	}
	require.Len(t, resultEvents, 1)
	assert.Equal(t, relay.EventToolResult{ID: "tc_1", ToolName: "touch"}, resultEvents[0])

	// The tool result message is still appended, just with no content.
	tr, ok := session.Messages[1].(relay.ToolResultMessage)
	require.True(t, ok)
	assert.Empty(t, tr.Content)
}

func TestLoop_EndTurnStopsDespiteToolCallBlocks(t *testing.T) {
	t.Parallel()

	call := relay.ToolCallBlock{ID: "tc_1", Name: "glob", Arguments: json.RawMessage(`{}`)}
	turns := 0
	provider := &mock.Provider{
		StreamFn: func(ctx context.Context, req relay.Request) (relay.Stream, error) {
			turns++
			return scriptedStream(nil, relay.AssistantMessage{
				Content:    []relay.ContentBlock{relay.TextBlock{Text: "done"}, call},
				StopReason: relay.StopEndTurn,
			}), nil
		},
	}
	executor := &mock.ToolExecutor{
		ExecuteFn: func(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
			t.Error("tool executed despite end_turn stop reason")
			return &relay.ToolResult{}, nil
		},
	}

	session := &relay.Session{}
	loop := agent.NewLoop(provider, executor)
	err := loop.Run(context.Background(), session, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, turns)
	require.Len(t, session.Messages, 1)
}
