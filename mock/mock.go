// Package mock provides test doubles for relay interfaces using function fields.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mstanton/relay"
)

// Interface compliance checks.
var (
	_ relay.Provider     = (*Provider)(nil)
	_ relay.Stream       = (*Stream)(nil)
	_ relay.ToolExecutor = (*ToolExecutor)(nil)
	_ relay.Classifier   = (*Classifier)(nil)
	_ relay.CallLogger   = (*CallLogger)(nil)
)

// Provider is a test double for relay.Provider.
// Set StreamFn before calling Stream. NameStr defaults to "mock".
type Provider struct {
	NameStr  string
	StreamFn func(ctx context.Context, req relay.Request) (relay.Stream, error)
}

// Name returns NameStr, or "mock" when unset.
func (p *Provider) Name() string {
	if p.NameStr == "" {
		return "mock"
	}
	return p.NameStr
}

// Stream delegates to StreamFn.
func (p *Provider) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	return p.StreamFn(ctx, req)
}

// Stream is a test double for relay.Stream.
// Set the function fields for the methods you need. NextFn and MessageFn
// panic when nil to catch missing setup. CloseFn and StateFn are nil-safe
// (no-op and zero value) because test code commonly calls defer stream.Close()
// and these methods rarely need custom behavior.
type Stream struct {
	NextFn    func() (relay.Event, error)
	StateFn   func() relay.StreamState
	MessageFn func() (relay.AssistantMessage, error)
	CloseFn   func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (relay.Event, error) {
	return s.NextFn()
}

// State delegates to StateFn. Returns StreamStateNew when StateFn is nil.
func (s *Stream) State() relay.StreamState {
	if s.StateFn == nil {
		return relay.StreamStateNew
	}
	return s.StateFn()
}

// Message delegates to MessageFn. Returns a zero message when MessageFn is nil.
func (s *Stream) Message() (relay.AssistantMessage, error) {
	if s.MessageFn == nil {
		return relay.AssistantMessage{}, nil
	}
	return s.MessageFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// ToolExecutor is a test double for relay.ToolExecutor.
// Set ExecuteFn before calling Execute.
type ToolExecutor struct {
	ExecuteFn func(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error)
}

// Execute delegates to ExecuteFn.
func (e *ToolExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (*relay.ToolResult, error) {
	return e.ExecuteFn(ctx, name, args)
}

// Classifier is a test double for relay.Classifier.
// Set ClassifyFn before calling Classify.
type Classifier struct {
	ClassifyFn func(text string) relay.Category
}

// Classify delegates to ClassifyFn.
func (c *Classifier) Classify(text string) relay.Category {
	return c.ClassifyFn(text)
}

// CallLogger is a test double for relay.CallLogger that captures
// records in memory. Safe for concurrent use.
type CallLogger struct {
	mu      sync.Mutex
	records []relay.CallRecord
}

// Record appends rec to the captured list.
func (l *CallLogger) Record(rec relay.CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of everything recorded so far.
func (l *CallLogger) Records() []relay.CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]relay.CallRecord, len(l.records))
	copy(out, l.records)
	return out
}
