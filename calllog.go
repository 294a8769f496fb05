package relay

import "time"

// CallRecord captures one provider call for analytics.
type CallRecord struct {
	CallerID   string
	SessionKey string
	Provider   string
	Model      string
	Category   Category
	CallSite   string
	Usage      Usage
	LatencyMS  int64
	Fallback   bool
	Timestamp  time.Time
}

// CallLogger records provider calls. Record is fire-and-forget:
// implementations must never block the caller and must swallow their
// own failures.
type CallLogger interface {
	Record(rec CallRecord)
}
