// Package breaker implements a per-provider circuit breaker with a
// process-wide registry. Checking allowance and recording outcomes are
// separate operations so fallback-path failures never count against
// the wrong provider.
package breaker

import (
	"sync"
	"time"

	"github.com/mstanton/relay"
)

// Default tuning for provider breakers.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards a single provider. Safe for concurrent use; the mutex
// is never held across network calls because the breaker makes none.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool // half-open trial call in flight
}

// New creates a closed breaker for the named provider.
func New(name string, threshold int, timeout time.Duration) *Breaker {
	return newBreaker(name, threshold, timeout, time.Now)
}

func newBreaker(name string, threshold int, timeout time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Breaker{name: name, threshold: threshold, timeout: timeout, now: now}
}

// Allow reports whether a call may proceed. It returns nil when the
// call is admitted and a *relay.CircuitOpenError when the breaker is
// open. After the recovery timeout elapses the breaker turns half-open
// and admits exactly one trial call; further calls are rejected until
// that trial's outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.timeout {
			return &relay.CircuitOpenError{Provider: b.name, RetryAfter: b.timeout - elapsed}
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return &relay.CircuitOpenError{Provider: b.name, RetryAfter: b.timeout}
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call. In closed state it resets
// the consecutive-failure counter; in half-open it closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = StateClosed
}

// RecordFailure reports a failed call. Reaching the threshold of
// consecutive failures in closed state opens the breaker; a half-open
// trial failure reopens it and restarts the recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
		b.failures = b.threshold
	case StateOpen:
		// Outcome of a call admitted before the breaker opened.
		b.openedAt = b.now()
	}
}

// ReleaseProbe abandons a half-open trial whose outcome will never be
// recorded, such as a call cut short by context cancellation. The
// breaker reopens without restarting the recovery timer, so the next
// Allow may admit a fresh trial immediately. No-op in other states.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probing {
		b.state = StateOpen
		b.probing = false
	}
}

// State returns the breaker's current state, reflecting timer expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Registry maps provider names to breakers, created lazily with the
// registry's threshold and timeout and reused for the process
// lifetime. Safe for concurrent use.
type Registry struct {
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source for all breakers the registry
// creates, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry whose breakers use the given
// threshold and recovery timeout. Zero values select the defaults.
func NewRegistry(threshold int, timeout time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
		breakers:  make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the named provider, creating it on
// first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.threshold, r.timeout, r.now)
		r.breakers[name] = b
	}
	return b
}
