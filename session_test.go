package relay_test

import (
	"testing"

	"github.com/mstanton/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	t.Parallel()
	s := relay.NewSession("You are helpful.")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "You are helpful.", s.SystemPrompt)
	assert.Empty(t, s.Messages)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)

	other := relay.NewSession("")
	assert.NotEqual(t, s.ID, other.ID)
}
