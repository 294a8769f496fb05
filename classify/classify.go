// Package classify assigns routing categories to message text using
// keyword heuristics and a bounded TTL cache. It performs no I/O.
package classify

import (
	"crypto/sha256"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mstanton/relay"
)

const (
	defaultCapacity = 256
	defaultTTL      = 5 * time.Minute
)

// Heuristics run in strict priority order. Earlier categories encode
// higher safety cost or higher specificity, so the first match wins.
var (
	greetingRe = regexp.MustCompile(`^(?i)(?:hi|hello|hey|thanks?|thank\s+you|ok|okay|cool|great|sure|yes|no|nope|yep)\b`)

	safetyRe = regexp.MustCompile(`(?i)\b(?:delete|remove|erase|wipe|overwrite|drop\s+table|rm\s+-rf|password|credentials?|api\s+key|secret\s+key|access\s+token|payment|transfer\s+(?:money|funds)|refund|sudo|admin\s+(?:access|rights|privileges?)|root\s+access)\b`)

	personaRe = regexp.MustCompile(`(?i)\bact\s+as\b|\bpretend\b|\broleplay\b|\brole-play\b|\byou\s+are\s+(?:a|an|my)\b|\bin\s+character\b`)

	codingRe = regexp.MustCompile(`(?i)\bwrite\b.*\b(?:script|function|class|file|test|code)\b` +
		`|\bcreate\b.*\b(?:project|module|app|api|bot|function|script|class)\b` +
		`|\brefactor\b|\bdebug\b|\bfix\s+(?:the|this|a)\b|\bbuild\b|\bimplement\b` +
		`|\bgenerate\s+(?:code|a)\b|\bcommit\b|\bgit\b|\bdeploy\b` +
		`|\.py\b|\.ts\b|\.js\b|\.go\b|\.sh\b` + "|```")

	summarizationRe = regexp.MustCompile(`(?i)\bsummari[sz]e\b|\bsummary\b|\btl;?dr\b|\bkey\s+points\b|\brecap\b|\bcondense\b`)

	reasoningRe = regexp.MustCompile(`(?i)\bpros\s+and\s+cons\b|\bshould\s+i\b|\bcompare\b|\brecommend\b|\btrade-?offs?\b|\bstrategy\b|\banalyz|\bevaluate\b|\bstep\s+by\s+step\b`)

	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	wsRe    = regexp.MustCompile(`\s+`)
)

type entry struct {
	category   relay.Category
	insertedAt time.Time
}

// Classifier categorizes text with a bounded, time-expiring cache of
// prior results keyed by normalized-text digest. Safe for concurrent
// use; the internal mutex is never held across I/O because there is
// none.
type Classifier struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[[sha256.Size]byte]entry
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithCache overrides the cache capacity and entry TTL.
func WithCache(capacity int, ttl time.Duration) Option {
	return func(c *Classifier) {
		c.capacity = capacity
		c.ttl = ttl
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// New creates a Classifier with a bounded TTL cache.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		capacity: defaultCapacity,
		ttl:      defaultTTL,
		now:      time.Now,
		entries:  make(map[[sha256.Size]byte]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ relay.Classifier = (*Classifier)(nil)

// Classify returns the routing category for text. A cache hit within
// the TTL dominates every heuristic, including the length checks.
// Empty or malformed input classifies as routine via the short-length
// fallback; Classify never fails.
func (c *Classifier) Classify(text string) relay.Category {
	trimmed := strings.TrimSpace(text)
	key := sha256.Sum256([]byte(normalize(trimmed)))

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.now().Sub(e.insertedAt) < c.ttl {
			c.mu.Unlock()
			return e.category
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	cat := categorize(trimmed)

	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = entry{category: cat, insertedAt: c.now()}
	c.mu.Unlock()

	return cat
}

// categorize applies the heuristic ladder. The ordering is a recorded
// policy choice: greeting length check first, then safety above
// persona above coding, with long keyword-free text deliberately
// biased toward reasoning rather than a cheap tier.
func categorize(trimmed string) relay.Category {
	switch {
	case len(trimmed) < 80 && greetingRe.MatchString(trimmed):
		return relay.CategoryRoutine
	case safetyRe.MatchString(trimmed):
		return relay.CategorySafety
	case personaRe.MatchString(trimmed):
		return relay.CategoryPersona
	case codingRe.MatchString(trimmed):
		return relay.CategoryCoding
	case summarizationRe.MatchString(trimmed):
		return relay.CategorySummarization
	case reasoningRe.MatchString(trimmed):
		return relay.CategoryReasoning
	case len(trimmed) < 300:
		return relay.CategoryRoutine
	default:
		return relay.CategoryReasoning
	}
}

// Len reports the number of resident cache entries.
func (c *Classifier) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the single entry with the earliest insertion
// timestamp. Caller holds c.mu.
func (c *Classifier) evictOldest() {
	var (
		oldestKey [sha256.Size]byte
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// normalize lowercases, strips punctuation, and collapses whitespace
// so that trivially different spellings share a cache key.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, "")
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
