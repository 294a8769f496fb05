package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/google/uuid"
	"github.com/mstanton/relay"
	"google.golang.org/genai"
)

// stream implements [relay.Stream] by wrapping the genai SDK's streaming
// iterator. Each pulled chunk may carry several parts; the resulting events
// are queued and handed out one per Next call.
type stream struct {
	ctx   context.Context
	pull  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	state relay.StreamState
	queue []relay.Event
	msg   relay.AssistantMessage
	err   error

	finishReason genai.FinishReason
}

// Interface compliance check.
var _ relay.Stream = (*stream)(nil)

// NewStreamFromIter wraps a genai streaming iterator in a [relay.Stream].
// Exported for testing with synthetic chunk sequences.
func NewStreamFromIter(ctx context.Context, iterFn iter.Seq2[*genai.GenerateContentResponse, error]) relay.Stream {
	next, stop := iter.Pull2(iterFn)
	return &stream{
		ctx:   ctx,
		pull:  next,
		stop:  stop,
		state: relay.StreamStateNew,
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
		if err := s.ctx.Err(); err != nil {
			return nil, s.fail(err, relay.StopAborted, "aborted")
		}

		chunk, err, ok := s.pull()
		if !ok {
			s.finalize()
			s.state = relay.StreamStateComplete
			return nil, io.EOF
		}
		if err != nil {
			return nil, s.fail(err, relay.StopError, "error")
		}
		if chunk == nil {
			continue
		}
		if procErr := s.processChunk(chunk); procErr != nil {
			return nil, procErr
		}
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
		return relay.AssistantMessage{}, fmt.Errorf("gemini: %w", relay.ErrStreamNotReady)
	}
	return s.msg, nil
}

func (s *stream) Close() error {
	if s.state != relay.StreamStateComplete && s.state != relay.StreamStateError {
		s.state = relay.StreamStateClosed
		s.msg.StopReason = relay.StopAborted
		s.msg.RawStopReason = "aborted"
	}
	s.stop()
	return nil
}

// fail transitions to the error state, stamps the message stop reason and
// returns the wrapped error.
func (s *stream) fail(err error, stop relay.StopReason, raw string) error {
	s.state = relay.StreamStateError
	s.err = fmt.Errorf("gemini: %w", err)
	s.msg.StopReason = stop
	s.msg.RawStopReason = raw
	return s.err
}

func (s *stream) processChunk(chunk *genai.GenerateContentResponse) error {
	if len(chunk.Candidates) == 0 {
		if fb := chunk.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return s.fail(fmt.Errorf("prompt blocked: %s", fb.BlockReason), relay.StopError, string(fb.BlockReason))
		}
		return nil
	}

	cand := chunk.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if err := s.processPart(part); err != nil {
				return err
			}
		}
	}
	if cand.FinishReason != "" {
		s.finishReason = cand.FinishReason
	}

	if um := chunk.UsageMetadata; um != nil {
		cached := int(um.CachedContentTokenCount)
		input := int(um.PromptTokenCount) - cached
		if input < 0 {
			input = 0
		}
		s.msg.Usage.InputTokens = input
		s.msg.Usage.OutputTokens = int(um.CandidatesTokenCount)
		s.msg.Usage.CacheReadTokens = cached
	}
	return nil
}

func (s *stream) processPart(part *genai.Part) error {
	switch {
	case part.FunctionCall != nil:
		fc := part.FunctionCall
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := json.RawMessage("{}")
		if fc.Args != nil {
			raw, err := json.Marshal(fc.Args)
			if err != nil {
				return s.fail(fmt.Errorf("invalid tool call arguments: %w", err), relay.StopError, "error")
			}
			args = raw
		}
		call := relay.ToolCallBlock{ID: id, Name: fc.Name, Arguments: args}
		s.msg.Content = append(s.msg.Content, call)
		s.queue = append(s.queue,
			relay.EventToolCallBegin{ID: id, Name: fc.Name},
			relay.EventToolCallEnd{Call: call},
		)

	case part.Thought:
		n := len(s.msg.Content)
		if n > 0 {
			if tb, ok := s.msg.Content[n-1].(relay.ThinkingBlock); ok {
				tb.Thinking += part.Text
				s.msg.Content[n-1] = tb
			} else {
				s.msg.Content = append(s.msg.Content, relay.ThinkingBlock{Thinking: part.Text})
			}
		} else {
			s.msg.Content = append(s.msg.Content, relay.ThinkingBlock{Thinking: part.Text})
		}
		if part.Text != "" {
			s.queue = append(s.queue, relay.EventThinkingDelta{Delta: part.Text})
		}

	case part.Text != "":
		n := len(s.msg.Content)
		if n > 0 {
			if tb, ok := s.msg.Content[n-1].(relay.TextBlock); ok {
				tb.Text += part.Text
				s.msg.Content[n-1] = tb
			} else {
				s.msg.Content = append(s.msg.Content, relay.TextBlock{Text: part.Text})
			}
		} else {
			s.msg.Content = append(s.msg.Content, relay.TextBlock{Text: part.Text})
		}
		s.queue = append(s.queue, relay.EventTextDelta{Delta: part.Text})
	}
	return nil
}

// finalize stamps the stop reason once the iterator is exhausted. A default
// end-of-turn upgrades to tool-use when the message carries tool calls;
// non-default reasons (safety, max tokens) are preserved.
func (s *stream) finalize() {
	switch s.finishReason {
	case "", genai.FinishReasonStop:
		s.msg.StopReason = relay.StopEndTurn
		s.msg.RawStopReason = "end_turn"
		if s.finishReason != "" {
			s.msg.RawStopReason = string(s.finishReason)
		}
		for _, b := range s.msg.Content {
			if _, ok := b.(relay.ToolCallBlock); ok {
				s.msg.StopReason = relay.StopToolUse
				break
			}
		}
	case genai.FinishReasonMaxTokens:
		s.msg.StopReason = relay.StopLength
		s.msg.RawStopReason = string(s.finishReason)
	default:
		s.msg.StopReason = relay.StopError
		s.msg.RawStopReason = string(s.finishReason)
	}
}
