package ollama

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

// stream implements [relay.Stream] over an NDJSON /api/chat response body.
type stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	state   relay.StreamState
	queue   []relay.Event
	msg     relay.AssistantMessage
	err     error

	textBuf strings.Builder
	done    bool
}

// Interface compliance check.
var _ relay.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	return &stream{
		ctx:     ctx,
		body:    body,
		scanner: bufio.NewScanner(body),
		state:   relay.StreamStateNew,
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
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, s.terminate(fmt.Errorf("malformed chunk: %w", err))
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
		return relay.AssistantMessage{}, fmt.Errorf("ollama: %w", relay.ErrStreamNotReady)
	}
	return s.msg, nil
}

func (s *stream) Close() error {
	if s.state != relay.StreamStateComplete && s.state != relay.StreamStateError {
		s.state = relay.StreamStateClosed
		s.msg.StopReason = relay.StopAborted
		s.msg.RawStopReason = "aborted"
	}
	return s.body.Close()
}

func (s *stream) terminate(err error) error {
	s.state = relay.StreamStateError
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		s.err = fmt.Errorf("ollama: %w", ctxErr)
		s.msg.StopReason = relay.StopAborted
		s.msg.RawStopReason = "aborted"
	} else {
		s.err = fmt.Errorf("ollama: %w", err)
		s.msg.StopReason = relay.StopError
		s.msg.RawStopReason = "error"
	}
	return s.err
}

func (s *stream) processChunk(chunk chatChunk) {
	if chunk.Message.Content != "" {
		if s.textBuf.Len() == 0 {
			s.msg.Content = append(s.msg.Content, relay.TextBlock{})
		}
		s.textBuf.WriteString(chunk.Message.Content)
		s.setTextBlock()
		s.queue = append(s.queue, relay.EventTextDelta{Delta: chunk.Message.Content})
	}

	// Ollama delivers tool calls whole, not as argument fragments.
	for _, tc := range chunk.Message.ToolCalls {
		args := tc.Function.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		call := relay.ToolCallBlock{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: args,
		}
		s.msg.Content = append(s.msg.Content, call)
		s.queue = append(s.queue,
			relay.EventToolCallBegin{ID: call.ID, Name: call.Name},
			relay.EventToolCallEnd{Call: call},
		)
	}

	if chunk.Done {
		s.done = true
		s.msg.Usage.InputTokens = chunk.PromptEvalCount
		s.msg.Usage.OutputTokens = chunk.EvalCount
		s.finalize(chunk.DoneReason)
	}
}

// setTextBlock keeps the first text block in sync with the accumulator.
func (s *stream) setTextBlock() {
	for i, b := range s.msg.Content {
		if _, ok := b.(relay.TextBlock); ok {
			s.msg.Content[i] = relay.TextBlock{Text: s.textBuf.String()}
			return
		}
	}
}

func (s *stream) finalize(reason string) {
	s.msg.RawStopReason = reason
	switch reason {
	case "stop", "":
		s.msg.StopReason = relay.StopEndTurn
		if reason == "" {
			s.msg.RawStopReason = "stop"
		}
		for _, b := range s.msg.Content {
			if _, ok := b.(relay.ToolCallBlock); ok {
				s.msg.StopReason = relay.StopToolUse
				break
			}
		}
	case "length":
		s.msg.StopReason = relay.StopLength
	default:
		s.msg.StopReason = relay.StopUnknown
	}
}
