// Package gemini implements [relay.Provider] for the Google Gemini API.
//
// It wraps the google.golang.org/genai SDK, translating between relay's
// domain types and the Gemini API types. Streaming uses the SDK's iter.Seq2
// iterator, wrapped into the pull-based [relay.Stream] interface.
package gemini

// Name is the provider name used for routing and circuit breaking.
const Name = "gemini"

const (
	defaultModel     = "gemini-2.5-pro"
	defaultMaxTokens = 65536
)
