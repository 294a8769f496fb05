// Package config loads router configuration from TOML, merging file
// values over built-in defaults. API keys come from the environment,
// never from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full application configuration.
type Config struct {
	SystemPrompt string   `toml:"system_prompt"`
	Models       Models   `toml:"models"`
	Routing      Routing  `toml:"routing"`
	Breaker      Breaker  `toml:"breaker"`
	Retry        Retry    `toml:"retry"`
	Timeouts     Timeouts `toml:"timeouts"`
	Ollama       Ollama   `toml:"ollama"`
	CallLog      CallLog  `toml:"call_log"`
}

// Models maps routing tiers to provider-specific model IDs.
type Models struct {
	MistralDefault    string `toml:"mistral_default"`
	ClaudeSimple      string `toml:"claude_simple"`
	ClaudeComplex     string `toml:"claude_complex"`
	GeminiLarge       string `toml:"gemini_large"`
	GeminiLongContext string `toml:"gemini_long_context"`
	GeminiPersona     string `toml:"gemini_persona"`
	OllamaDefault     string `toml:"ollama_default"`
}

// Routing holds the context-size thresholds of the policy table, in
// estimated tokens.
type Routing struct {
	RoutineThreshold       int `toml:"routine_threshold"`
	SummarizationThreshold int `toml:"summarization_threshold"`
	LongContextThreshold   int `toml:"long_context_threshold"`
}

// Breaker tunes the per-provider circuit breakers.
type Breaker struct {
	Threshold      int `toml:"threshold"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns the recovery timeout as a duration.
func (b Breaker) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Retry tunes the per-provider retry loops.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Timeouts bounds the wall-clock time of external calls.
type Timeouts struct {
	CallSeconds int `toml:"call_seconds"`
}

// Call returns the per-call timeout as a duration.
func (t Timeouts) Call() time.Duration {
	return time.Duration(t.CallSeconds) * time.Second
}

// Ollama locates the local fallback server.
type Ollama struct {
	BaseURL string `toml:"base_url"`
}

// CallLog locates the call-log database. An empty path disables
// persistence.
type CallLog struct {
	Path string `toml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SystemPrompt: "You are a helpful assistant.",
		Models: Models{
			MistralDefault:    "mistral-medium-latest",
			ClaudeSimple:      "claude-sonnet-4-20250514",
			ClaudeComplex:     "claude-opus-4-20250514",
			GeminiLarge:       "gemini-2.5-pro",
			GeminiLongContext: "gemini-2.5-pro",
			GeminiPersona:     "gemini-2.5-flash",
			OllamaDefault:     "llama3.1:8b",
		},
		Routing: Routing{
			RoutineThreshold:       50_000,
			SummarizationThreshold: 100_000,
			LongContextThreshold:   128_000,
		},
		Breaker: Breaker{
			Threshold:      5,
			TimeoutSeconds: 60,
		},
		Retry: Retry{
			MaxAttempts: 3,
		},
		Timeouts: Timeouts{
			CallSeconds: 600,
		},
		Ollama: Ollama{
			BaseURL: "http://127.0.0.1:11434",
		},
	}
}

// Load reads the TOML file at path and merges it over the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Routing.RoutineThreshold <= 0 ||
		c.Routing.SummarizationThreshold <= 0 ||
		c.Routing.LongContextThreshold <= 0 {
		return fmt.Errorf("routing thresholds must be positive")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Timeouts.CallSeconds <= 0 {
		return fmt.Errorf("timeouts call_seconds must be positive")
	}
	return nil
}

// Keys holds provider API keys. Providers with empty keys are not
// constructed.
type Keys struct {
	Anthropic string
	Gemini    string
	Mistral   string
}

// KeysFromEnv reads provider API keys from the environment.
func KeysFromEnv() Keys {
	return Keys{
		Anthropic: os.Getenv("ANTHROPIC_API_KEY"),
		Gemini:    os.Getenv("GEMINI_API_KEY"),
		Mistral:   os.Getenv("MISTRAL_API_KEY"),
	}
}
