package main

import (
	"context"
	"fmt"

	"github.com/mstanton/relay/anthropic"
	"github.com/mstanton/relay/config"
	"github.com/mstanton/relay/gemini"
	"github.com/mstanton/relay/mistral"
	"github.com/mstanton/relay/ollama"
	"github.com/mstanton/relay/retry"
	"github.com/mstanton/relay/router"
)

// buildProviders constructs the provider set and the model table from
// API keys. The Anthropic key is required; missing Mistral or Gemini
// keys degrade those tiers to the Anthropic client (with matching
// Anthropic model IDs) so every route stays serviceable.
func buildProviders(ctx context.Context, cfg config.Config, keys config.Keys) (router.Providers, router.Models, error) {
	if keys.Anthropic == "" {
		return router.Providers{}, router.Models{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts}
	capable := anthropic.New(keys.Anthropic, anthropic.WithRetryPolicy(policy))

	providers := router.Providers{
		Cheap:     capable,
		Capable:   capable,
		Secondary: capable,
		Fallback:  ollama.New(ollama.WithBaseURL(cfg.Ollama.BaseURL), ollama.WithModel(cfg.Models.OllamaDefault)),
	}
	models := router.Models{
		CheapDefault:         cfg.Models.ClaudeSimple,
		CapableSimple:        cfg.Models.ClaudeSimple,
		CapableComplex:       cfg.Models.ClaudeComplex,
		SecondaryLarge:       cfg.Models.ClaudeSimple,
		SecondaryLongContext: cfg.Models.ClaudeComplex,
		SecondaryPersona:     cfg.Models.ClaudeSimple,
		FallbackDefault:      cfg.Models.OllamaDefault,
	}

	if keys.Mistral != "" {
		providers.Cheap = mistral.New(keys.Mistral, mistral.WithRetryPolicy(policy))
		models.CheapDefault = cfg.Models.MistralDefault
	}
	if keys.Gemini != "" {
		g, err := gemini.New(ctx, keys.Gemini)
		if err != nil {
			return router.Providers{}, router.Models{}, fmt.Errorf("gemini: %w", err)
		}
		providers.Secondary = g
		models.SecondaryLarge = cfg.Models.GeminiLarge
		models.SecondaryLongContext = cfg.Models.GeminiLongContext
		models.SecondaryPersona = cfg.Models.GeminiPersona
	}
	return providers, models, nil
}
