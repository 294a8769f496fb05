package relay

// Usage tracks token consumption.
//
// Invariant across all providers:
//
//	InputTokens      = non-cached input tokens
//	CacheReadTokens  = tokens served from cache (cache hit)
//	CacheWriteTokens = tokens written to cache (cache creation)
//
// Total input tokens = InputTokens + CacheReadTokens + CacheWriteTokens.
// Each category has a different cost rate. Providers normalize their
// API-specific fields to this invariant (e.g., OpenAI subtracts
// cached_tokens from input_tokens to produce InputTokens).
// Providers must clamp to zero: max(0, derived) when subtracting to
// guard against inconsistent upstream data.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// CacheHitRate returns the fraction of prompt tokens served from the
// cache, in [0, 1]: CacheReadTokens / (InputTokens + CacheReadTokens).
// Cache writes are creation cost, not reads, so they do not affect the
// rate. Returns 0 when no input tokens were consumed.
func (u Usage) CacheHitRate() float64 {
	total := u.InputTokens + u.CacheReadTokens
	if total == 0 {
		return 0
	}
	return float64(u.CacheReadTokens) / float64(total)
}
