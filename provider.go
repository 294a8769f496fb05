package relay

import "context"

// Provider is a strategy pattern interface for LLM providers.
// Name() identifies the provider for routing, circuit breaking,
// and call logging. It is stable across requests.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}
