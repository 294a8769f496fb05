package relay_test

import (
	"testing"

	"github.com/mstanton/relay"
	"github.com/stretchr/testify/assert"
)

func TestUsage_Add(t *testing.T) {
	t.Parallel()
	u := relay.Usage{InputTokens: 10, OutputTokens: 5}
	u.Add(relay.Usage{InputTokens: 3, OutputTokens: 2, CacheReadTokens: 100, CacheWriteTokens: 50})
	assert.Equal(t, relay.Usage{
		InputTokens:      13,
		OutputTokens:     7,
		CacheReadTokens:  100,
		CacheWriteTokens: 50,
	}, u)
}

func TestUsage_CacheHitRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		usage relay.Usage
		want  float64
	}{
		{"zero usage", relay.Usage{}, 0},
		{"no cache activity", relay.Usage{InputTokens: 100}, 0},
		{"half served from cache", relay.Usage{InputTokens: 50, CacheReadTokens: 50}, 0.5},
		{"all served from cache", relay.Usage{CacheReadTokens: 200}, 1},
		{"writes do not affect the rate", relay.Usage{InputTokens: 500, CacheReadTokens: 500, CacheWriteTokens: 1000}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.usage.CacheHitRate(), 1e-9)
		})
	}
}
