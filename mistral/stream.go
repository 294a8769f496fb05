package mistral

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/mstanton/relay"
)

// stream implements [relay.Stream] over an OpenAI-compatible SSE response
// body. A single chunk can produce several events, so decoded events are
// queued and handed out one per Next call.
type stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	state   relay.StreamState
	queue   []relay.Event
	msg     relay.AssistantMessage
	err     error

	textBuf      strings.Builder
	calls        map[int]*toolCallState
	callOrder    []int
	finishReason string
	done         bool
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

// Interface compliance check.
var _ relay.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	return &stream{
		ctx:     ctx,
		body:    body,
		scanner: bufio.NewScanner(body),
		state:   relay.StreamStateNew,
		calls:   make(map[int]*toolCallState),
	}
}

func (s *stream) Next() (relay.Event, error) {
	switch s.state {
	case relay.StreamStateComplete:
		return nil, io.EOF
	case relay.StreamStateError:
		return nil, s.err
	case relay.StreamStateClosed:
		return nil, relay.ErrStreamClosed
	}

	for len(s.queue) == 0 {
		if s.done {
			s.state = relay.StreamStateComplete
			return nil, io.EOF
		}
		if !s.scanner.Scan() {
			err := s.scanner.Err()
			if err == nil {
				err = fmt.Errorf("unexpected end of stream")
			}
			return nil, s.terminate(err)
		}
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			s.finalize()
			s.done = true
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keep-alive or partial payloads.
			continue
		}
		s.processChunk(chunk)
	}

	s.state = relay.StreamStateStreaming
	evt := s.queue[0]
	s.queue = s.queue[1:]
	return evt, nil
}

func (s *stream) State() relay.StreamState {
	return s.state
}

func (s *stream) Message() (relay.AssistantMessage, error) {
	if s.state == relay.StreamStateNew {
		return relay.AssistantMessage{}, fmt.Errorf("mistral: %w", relay.ErrStreamNotReady)
	}
	msg := s.msg
	msg.Content = s.assembleContent()
	return msg, nil
}

func (s *stream) Close() error {
	if s.state != relay.StreamStateComplete && s.state != relay.StreamStateError {
		s.state = relay.StreamStateClosed
		s.msg.StopReason = relay.StopAborted
		s.msg.RawStopReason = "aborted"
	}
	return s.body.Close()
}

// terminate transitions into the error state. Context cancellation maps to
// an aborted stop; anything else is a stream error.
func (s *stream) terminate(err error) error {
	s.state = relay.StreamStateError
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		s.err = fmt.Errorf("mistral: %w", ctxErr)
		s.msg.StopReason = relay.StopAborted
		s.msg.RawStopReason = "aborted"
	} else {
		s.err = fmt.Errorf("mistral: %w", err)
		s.msg.StopReason = relay.StopError
		s.msg.RawStopReason = "error"
	}
	return s.err
}

func (s *stream) processChunk(chunk chatChunk) {
	if chunk.Usage != nil {
		s.msg.Usage.InputTokens = chunk.Usage.PromptTokens
		s.msg.Usage.OutputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		s.textBuf.WriteString(choice.Delta.Content)
		s.queue = append(s.queue, relay.EventTextDelta{Delta: choice.Delta.Content})
	}

	for _, tcd := range choice.Delta.ToolCalls {
		call, ok := s.calls[tcd.Index]
		if !ok {
			id := tcd.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			call = &toolCallState{id: id, name: tcd.Function.Name}
			s.calls[tcd.Index] = call
			s.callOrder = append(s.callOrder, tcd.Index)
			s.queue = append(s.queue, relay.EventToolCallBegin{ID: call.id, Name: call.name})
		}
		if tcd.Function.Arguments != "" {
			call.args.WriteString(tcd.Function.Arguments)
			s.queue = append(s.queue, relay.EventToolCallDelta{ID: call.id, Delta: tcd.Function.Arguments})
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.finishReason = *choice.FinishReason
	}
}

// finalize emits tool call end events and stamps the stop reason once the
// [DONE] sentinel arrives.
func (s *stream) finalize() {
	for _, idx := range s.callOrder {
		call := s.calls[idx]
		s.queue = append(s.queue, relay.EventToolCallEnd{Call: call.block()})
	}

	s.msg.Content = s.assembleContent()
	s.msg.RawStopReason = s.finishReason
	switch s.finishReason {
	case "stop":
		s.msg.StopReason = relay.StopEndTurn
	case "length":
		s.msg.StopReason = relay.StopLength
	case "tool_calls":
		s.msg.StopReason = relay.StopToolUse
	case "":
		s.msg.StopReason = relay.StopEndTurn
		s.msg.RawStopReason = "stop"
	default:
		s.msg.StopReason = relay.StopUnknown
	}
}

func (s *stream) assembleContent() []relay.ContentBlock {
	var blocks []relay.ContentBlock
	if s.textBuf.Len() > 0 {
		blocks = append(blocks, relay.TextBlock{Text: s.textBuf.String()})
	}
	for _, idx := range s.callOrder {
		blocks = append(blocks, s.calls[idx].block())
	}
	return blocks
}

func (t *toolCallState) block() relay.ToolCallBlock {
	args := t.args.String()
	if args == "" {
		args = "{}"
	}
	return relay.ToolCallBlock{
		ID:        t.id,
		Name:      t.name,
		Arguments: json.RawMessage(args),
	}
}
