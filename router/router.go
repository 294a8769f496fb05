// Package router maps classified requests to providers and models,
// guards each provider with its circuit breaker, and falls back to the
// local provider when the routed one fails.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstanton/relay"
	"github.com/mstanton/relay/agent"
	"github.com/mstanton/relay/breaker"
)

// Default context-size thresholds, in estimated tokens.
const (
	DefaultRoutineThreshold       = 50_000
	DefaultSummarizationThreshold = 100_000
	DefaultLongContextThreshold   = 128_000
)

// DefaultCallTimeout bounds the wall-clock time of one routed attempt,
// covering the full agent loop including tool execution. Generous
// because long streams are normal; this guards against hangs, not
// slowness.
const DefaultCallTimeout = 10 * time.Minute

// FallbackProvider is a provider that can report availability before
// the router commits to streaming from it.
type FallbackProvider interface {
	relay.Provider
	Ping(ctx context.Context) error
}

// Providers holds the provider set the router chooses from. Cheap,
// Capable, and Secondary are the cloud tiers of the policy table;
// Fallback is the local provider of last resort.
type Providers struct {
	Cheap     relay.Provider
	Capable   relay.Provider
	Secondary relay.Provider
	Fallback  FallbackProvider
}

// Models maps policy-table cells to provider-specific model IDs.
// Empty strings select each provider's default model.
type Models struct {
	CheapDefault         string
	CapableSimple        string
	CapableComplex       string
	SecondaryLarge       string
	SecondaryLongContext string
	SecondaryPersona     string
	FallbackDefault      string
}

// Policy holds the context-size thresholds of the routing table.
// Zero values select the defaults.
type Policy struct {
	RoutineThreshold       int
	SummarizationThreshold int
	LongContextThreshold   int
}

func (p Policy) withDefaults() Policy {
	if p.RoutineThreshold <= 0 {
		p.RoutineThreshold = DefaultRoutineThreshold
	}
	if p.SummarizationThreshold <= 0 {
		p.SummarizationThreshold = DefaultSummarizationThreshold
	}
	if p.LongContextThreshold <= 0 {
		p.LongContextThreshold = DefaultLongContextThreshold
	}
	return p
}

// Router routes requests per the policy table and runs the agent loop
// against the chosen provider. Safe for concurrent use; each Route call
// streams independently.
type Router struct {
	classifier relay.Classifier
	breakers   *breaker.Registry
	providers  Providers
	models     Models
	policy     Policy

	executor     relay.ToolExecutor
	tools        []relay.Tool
	logger       relay.CallLogger
	systemPrompt string
	callSite     string
	callTimeout  time.Duration

	mu           sync.Mutex
	lastProvider string
	lastUsage    relay.Usage
}

// Option configures a Router.
type Option func(*Router)

// WithModels sets the model IDs used per policy-table cell.
func WithModels(m Models) Option {
	return func(r *Router) {
		r.models = m
	}
}

// WithPolicy sets the context-size thresholds.
func WithPolicy(p Policy) Option {
	return func(r *Router) {
		r.policy = p
	}
}

// WithTools sets the tool executor and the tool definitions advertised
// to providers.
func WithTools(executor relay.ToolExecutor, tools []relay.Tool) Option {
	return func(r *Router) {
		r.executor = executor
		r.tools = tools
	}
}

// WithCallLogger sets the call-log collaborator.
func WithCallLogger(logger relay.CallLogger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithSystemPrompt sets the default system prompt used when Route is
// called with an empty override.
func WithSystemPrompt(prompt string) Option {
	return func(r *Router) {
		r.systemPrompt = prompt
	}
}

// WithCallSite labels call records with where in the application the
// route originated.
func WithCallSite(site string) Option {
	return func(r *Router) {
		r.callSite = site
	}
}

// WithCallTimeout sets the wall-clock bound for a single routed
// attempt. A timed-out primary counts as a failure and falls back.
// Zero or negative selects DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.callTimeout = d
	}
}

// New creates a Router. The classifier, breaker registry, and at least
// the Capable and Fallback providers must be set.
func New(classifier relay.Classifier, breakers *breaker.Registry, providers Providers, opts ...Option) *Router {
	r := &Router{
		classifier: classifier,
		breakers:   breakers,
		providers:  providers,
		callSite:   "chat",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.policy = r.policy.withDefaults()
	if r.executor == nil {
		r.executor = noopExecutor{}
	}
	if r.callTimeout <= 0 {
		r.callTimeout = DefaultCallTimeout
	}
	return r
}

// LastProvider returns the provider name of the most recent completed
// call, empty before any call finishes.
func (r *Router) LastProvider() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastProvider
}

// LastUsage returns the token usage of the most recent completed call.
func (r *Router) LastUsage() relay.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsage
}

// Route classifies text, picks a provider and model from the policy
// table, and returns a stream of text chunks produced by the agent
// loop. The history slice is the prior conversation; Route appends the
// new user message built from text. An empty systemPrompt selects the
// router's default. Errors surface from TextStream.Next, not from
// Route itself, except for an already-cancelled context.
func (r *Router) Route(ctx context.Context, text string, history []relay.Message, callerID, systemPrompt string) (*TextStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if systemPrompt == "" {
		systemPrompt = r.systemPrompt
	}

	category := r.classifier.Classify(text)

	base := make([]relay.Message, 0, len(history)+1)
	base = append(base, history...)
	base = append(base, relay.UserMessage{
		Content:   []relay.ContentBlock{relay.TextBlock{Text: text}},
		Timestamp: time.Now(),
	})

	est := relay.Request{SystemPrompt: systemPrompt, Messages: base}.EstimatedTokens()
	provider, model := r.pick(category, est)

	ctx, cancel := context.WithCancel(ctx)
	stream := newTextStream(cancel)
	go r.run(ctx, stream, routedCall{
		provider:     provider,
		model:        model,
		category:     category,
		callerID:     callerID,
		sessionKey:   uuid.NewString(),
		systemPrompt: systemPrompt,
		base:         base,
	})
	return stream, nil
}

// pick resolves the policy table for one category and context size.
func (r *Router) pick(category relay.Category, estimatedTokens int) (relay.Provider, string) {
	p := r.providers
	m := r.models
	switch category {
	case relay.CategorySummarization:
		if estimatedTokens < r.policy.SummarizationThreshold {
			return p.Capable, m.CapableSimple
		}
		return p.Secondary, m.SecondaryLarge
	case relay.CategoryReasoning:
		if estimatedTokens > r.policy.LongContextThreshold {
			return p.Secondary, m.SecondaryLongContext
		}
		return p.Capable, m.CapableComplex
	case relay.CategoryCoding:
		if estimatedTokens < r.policy.LongContextThreshold {
			return p.Capable, m.CapableComplex
		}
		return p.Secondary, m.SecondaryLongContext
	case relay.CategorySafety:
		return p.Capable, m.CapableComplex
	case relay.CategoryPersona:
		return p.Secondary, m.SecondaryPersona
	default: // routine
		if estimatedTokens < r.policy.RoutineThreshold {
			return p.Cheap, m.CheapDefault
		}
		return p.Capable, m.CapableSimple
	}
}

// routedCall carries the per-call state through the primary attempt
// and the fallback path.
type routedCall struct {
	provider     relay.Provider
	model        string
	category     relay.Category
	callerID     string
	sessionKey   string
	systemPrompt string
	base         []relay.Message
}

// run drives the primary attempt and, on any failure, the fallback.
// It owns the stream's producer side and always finishes it.
func (r *Router) run(ctx context.Context, out *TextStream, call routedCall) {
	br := r.breakers.Get(call.provider.Name())
	if allowErr := br.Allow(); allowErr == nil {
		err := r.attempt(ctx, out, call.provider, call.model, call, false)
		if err == nil {
			br.RecordSuccess()
			out.finish(nil)
			return
		}
		if ctx.Err() != nil {
			// The caller walked away mid-call, so the attempt says
			// nothing about provider health. Hand back a half-open
			// trial slot instead of counting an outcome.
			br.ReleaseProbe()
			out.finish(err)
			return
		}
		br.RecordFailure()
	}

	fb := r.providers.Fallback
	if fb == nil {
		out.finish(fmt.Errorf("router: no fallback configured: %w", relay.ErrAllProvidersUnavailable))
		return
	}
	if err := fb.Ping(ctx); err != nil {
		out.finish(fmt.Errorf("router: fallback unreachable: %w", relay.ErrAllProvidersUnavailable))
		return
	}

	// Announce the degradation only once the fallback is known to be
	// reachable; total unavailability surfaces as an error alone.
	out.emit(ctx, fmt.Sprintf("⚠️ _%s unavailable — responding via local Ollama model_\n\n", call.provider.Name()))

	// The fallback sees the same history the primary did.
	if err := r.attempt(ctx, out, fb, r.models.FallbackDefault, call, true); err != nil {
		if ctx.Err() != nil {
			out.finish(err)
			return
		}
		out.finish(fmt.Errorf("router: %w", relay.ErrAllProvidersUnavailable))
		return
	}
	out.finish(nil)
}

// attempt runs the agent loop against one provider, forwarding text
// deltas to the stream and recording the call regardless of outcome.
func (r *Router) attempt(ctx context.Context, out *TextStream, provider relay.Provider, model string, call routedCall, fallback bool) error {
	// Each attempt gets its own wall-clock bound; expiry here cancels
	// the provider's in-flight HTTP request without touching the
	// caller's context, so the fallback path still runs.
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	session := &relay.Session{
		ID:           call.sessionKey,
		SystemPrompt: call.systemPrompt,
		Messages:     append([]relay.Message(nil), call.base...),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	start := time.Now()
	var usage relay.Usage
	loop := agent.NewLoop(provider, r.executor)
	err := loop.Run(ctx, session, r.tools,
		agent.WithModel(model),
		agent.WithUsageSink(&usage),
		agent.WithEventHandler(func(e relay.Event) {
			if d, ok := e.(relay.EventTextDelta); ok {
				out.emit(ctx, d.Delta)
			}
		}),
	)

	if r.logger != nil {
		r.logger.Record(relay.CallRecord{
			CallerID:   call.callerID,
			SessionKey: call.sessionKey,
			Provider:   provider.Name(),
			Model:      model,
			Category:   call.category,
			CallSite:   r.callSite,
			Usage:      usage,
			LatencyMS:  time.Since(start).Milliseconds(),
			Fallback:   fallback,
			Timestamp:  time.Now(),
		})
	}

	r.mu.Lock()
	r.lastProvider = provider.Name()
	r.lastUsage = usage
	r.mu.Unlock()

	return err
}

// noopExecutor rejects every tool call. Used when the router is built
// without tools so a provider hallucinating a tool call degrades into
// an error-describing tool result instead of a panic.
type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, name string, _ json.RawMessage) (*relay.ToolResult, error) {
	return nil, fmt.Errorf("router: %q: %w", name, relay.ErrToolNotFound)
}
