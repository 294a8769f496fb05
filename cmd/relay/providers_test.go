package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstanton/relay/config"
)

func TestBuildProviders_RequiresAnthropicKey(t *testing.T) {
	t.Parallel()

	_, _, err := buildProviders(context.Background(), config.Default(), config.Keys{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestBuildProviders_AllKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	providers, models, err := buildProviders(context.Background(), cfg, config.Keys{
		Anthropic: "ak",
		Gemini:    "gk",
		Mistral:   "mk",
	})
	require.NoError(t, err)

	assert.Equal(t, "mistral", providers.Cheap.Name())
	assert.Equal(t, "claude", providers.Capable.Name())
	assert.Equal(t, "gemini", providers.Secondary.Name())
	assert.Equal(t, "ollama", providers.Fallback.Name())

	assert.Equal(t, cfg.Models.MistralDefault, models.CheapDefault)
	assert.Equal(t, cfg.Models.ClaudeComplex, models.CapableComplex)
	assert.Equal(t, cfg.Models.GeminiPersona, models.SecondaryPersona)
	assert.Equal(t, cfg.Models.OllamaDefault, models.FallbackDefault)
}

func TestBuildProviders_DegradesMissingTiers(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	providers, models, err := buildProviders(context.Background(), cfg, config.Keys{Anthropic: "ak"})
	require.NoError(t, err)

	// Cheap and secondary tiers fall back to the Anthropic client with
	// Anthropic model IDs.
	assert.Equal(t, "claude", providers.Cheap.Name())
	assert.Equal(t, "claude", providers.Secondary.Name())
	assert.Equal(t, cfg.Models.ClaudeSimple, models.CheapDefault)
	assert.Equal(t, cfg.Models.ClaudeComplex, models.SecondaryLongContext)
	assert.Equal(t, cfg.Models.ClaudeSimple, models.SecondaryPersona)
}
