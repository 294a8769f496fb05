package router

import (
	"context"
	"io"
)

// TextStream is a pull-based sequence of text chunks produced by a
// routed call. Next returns io.EOF after the final chunk, or the
// terminal error when both the routed provider and the fallback
// failed. Close releases the producer; it is safe to call at any time.
type TextStream struct {
	ch     chan string
	cancel context.CancelFunc

	// termErr is written by the producer before ch is closed; the
	// close establishes the happens-before edge for the consumer.
	termErr error
}

func newTextStream(cancel context.CancelFunc) *TextStream {
	return &TextStream{
		ch:     make(chan string, 16),
		cancel: cancel,
	}
}

// Next returns the next text chunk. It blocks until a chunk is
// available, the stream ends (io.EOF), or the call fails terminally.
func (s *TextStream) Next() (string, error) {
	text, ok := <-s.ch
	if !ok {
		if s.termErr != nil {
			return "", s.termErr
		}
		return "", io.EOF
	}
	return text, nil
}

// Close cancels the underlying call. Pending chunks are discarded.
func (s *TextStream) Close() error {
	s.cancel()
	return nil
}

// emit sends one chunk to the consumer, giving up if the call's
// context is cancelled so an abandoned stream never leaks the
// producer goroutine.
func (s *TextStream) emit(ctx context.Context, text string) {
	select {
	case s.ch <- text:
	case <-ctx.Done():
	}
}

// finish ends the stream, delivering err to the consumer when non-nil.
func (s *TextStream) finish(err error) {
	s.termErr = err
	close(s.ch)
}
