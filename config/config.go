// Package config loads provider credentials and tuning knobs for the
// registry. Configuration layers in order: built-in defaults, an optional
// YAML file, then environment variables. Discovery probes the standard
// API key variables so zero-config setups pick the first provider found.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifiers accepted in Config.Default and by the registry.
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Google    = "google"
	Bedrock   = "bedrock"
)

// ErrNoProviderConfigured is returned by Discover when no provider has
// credentials in the environment.
var ErrNoProviderConfigured = errors.New("config: no provider configured")

type (
	// Config holds credentials and defaults for every supported provider
	// plus shared retry and rate limit tuning.
	Config struct {
		// Default selects the provider used when a call does not name one.
		// Must be one of the provider identifier constants.
		Default string `yaml:"default"`

		Anthropic Provider      `yaml:"anthropic"`
		OpenAI    Provider      `yaml:"openai"`
		Google    Provider      `yaml:"google"`
		Bedrock   BedrockConfig `yaml:"bedrock"`

		Retry     Retry     `yaml:"retry"`
		RateLimit RateLimit `yaml:"rate_limit"`
	}

	// Provider configures one API-key based provider.
	Provider struct {
		// APIKey authenticates requests. Empty means the provider is not
		// configured.
		APIKey string `yaml:"api_key"`
		// BaseURL overrides the provider endpoint, for proxies and
		// compatible APIs.
		BaseURL string `yaml:"base_url"`
		// Model is the default model identifier for this provider.
		Model string `yaml:"model"`
		// MaxTokens caps completion tokens when a call does not specify
		// its own limit. Zero leaves the provider default in place.
		MaxTokens int `yaml:"max_tokens"`
		// Temperature is the default sampling temperature. Zero leaves
		// the provider default in place.
		Temperature float64 `yaml:"temperature"`
	}

	// BedrockConfig configures the AWS Bedrock provider. Credentials come
	// from the standard AWS chain; only region and model are set here.
	BedrockConfig struct {
		Region string `yaml:"region"`
		Model  string `yaml:"model"`
	}

	// Retry tunes the retry middleware applied to provider clients.
	Retry struct {
		// MaxAttempts bounds total attempts including the first. Zero or
		// one disables retries.
		MaxAttempts int `yaml:"max_attempts"`
		// BaseDelay is the first backoff interval.
		BaseDelay Duration `yaml:"base_delay"`
		// MaxDelay caps the backoff growth.
		MaxDelay Duration `yaml:"max_delay"`
	}

	// RateLimit tunes the adaptive client-side rate limit middleware. A
	// zero TPM disables limiting.
	RateLimit struct {
		// TPM is the initial tokens-per-minute budget granted to each
		// provider client.
		TPM float64 `yaml:"tpm"`
		// MaxTPM caps recovery growth after backoffs. Zero means TPM.
		MaxTPM float64 `yaml:"max_tpm"`
	}
)

// Default returns a Config with built-in defaults: no credentials, current
// small models per provider, and conservative retry settings.
func Default() Config {
	return Config{
		Anthropic: Provider{
			Model: "claude-sonnet-4-5",
		},
		OpenAI: Provider{
			Model: "gpt-4o-mini",
		},
		Google: Provider{
			Model: "gemini-2.0-flash",
		},
		Bedrock: BedrockConfig{
			Model: "anthropic.claude-sonnet-4-5-20250929-v1:0",
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration(500 * time.Millisecond),
			MaxDelay:    Duration(10 * time.Second),
		},
	}
}

// FromEnv builds a Config from environment variables layered over the
// built-in defaults. Recognized variables:
//
//	LLM_PROVIDER                       default provider
//	ANTHROPIC_API_KEY, ANTHROPIC_MODEL
//	OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
//	GEMINI_API_KEY (or GOOGLE_API_KEY), GEMINI_MODEL
//	AWS_REGION (or AWS_DEFAULT_REGION), BEDROCK_MODEL
func FromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if p := os.Getenv("LLM_PROVIDER"); p != "" {
		cfg.Default = p
	}

	if k := os.Getenv("ANTHROPIC_API_KEY"); k != "" {
		cfg.Anthropic.APIKey = k
	}
	if m := os.Getenv("ANTHROPIC_MODEL"); m != "" {
		cfg.Anthropic.Model = m
	}

	if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		cfg.OpenAI.APIKey = k
	}
	if u := os.Getenv("OPENAI_BASE_URL"); u != "" {
		cfg.OpenAI.BaseURL = u
	}
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		cfg.OpenAI.Model = m
	}

	if k := envOr("GEMINI_API_KEY", "GOOGLE_API_KEY"); k != "" {
		cfg.Google.APIKey = k
	}
	if m := os.Getenv("GEMINI_MODEL"); m != "" {
		cfg.Google.Model = m
	}

	if r := envOr("AWS_REGION", "AWS_DEFAULT_REGION"); r != "" {
		cfg.Bedrock.Region = r
	}
	if m := os.Getenv("BEDROCK_MODEL"); m != "" {
		cfg.Bedrock.Model = m
	}
}

func envOr(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Discover builds a Config from the environment and selects the first
// configured provider as the default, probing in order: anthropic, openai,
// google, bedrock. An explicit LLM_PROVIDER wins over probing. Returns
// ErrNoProviderConfigured when no provider has credentials.
func Discover() (Config, error) {
	cfg := FromEnv()
	if cfg.Default != "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	for _, name := range Names() {
		if cfg.Configured(name) {
			cfg.Default = name
			return cfg, nil
		}
	}
	return Config{}, ErrNoProviderConfigured
}

// Load reads a YAML config file and layers it between the built-in
// defaults and the environment: file values override defaults, environment
// variables override the file. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Names lists the supported provider identifiers in discovery order.
func Names() []string {
	return []string{Anthropic, OpenAI, Google, Bedrock}
}

// Configured reports whether the named provider has enough configuration
// to construct a client. API-key providers need a key; Bedrock needs a
// region since credentials come from the AWS chain.
func (c Config) Configured(name string) bool {
	switch name {
	case Anthropic:
		return c.Anthropic.APIKey != ""
	case OpenAI:
		return c.OpenAI.APIKey != ""
	case Google:
		return c.Google.APIKey != ""
	case Bedrock:
		return c.Bedrock.Region != ""
	default:
		return false
	}
}

// Validate checks that the default provider, when set, names a known and
// configured provider, and that the numeric knobs are sane.
func (c Config) Validate() error {
	if c.Default != "" {
		known := false
		for _, name := range Names() {
			if c.Default == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("config: unknown provider %q", c.Default)
		}
		if !c.Configured(c.Default) {
			return fmt.Errorf("config: provider %q selected but not configured", c.Default)
		}
	}

	for _, p := range []struct {
		name string
		cfg  Provider
	}{
		{Anthropic, c.Anthropic},
		{OpenAI, c.OpenAI},
		{Google, c.Google},
	} {
		if p.cfg.MaxTokens < 0 {
			return fmt.Errorf("config: %s max_tokens must not be negative", p.name)
		}
		if p.cfg.Temperature < 0 || p.cfg.Temperature > 2 {
			return fmt.Errorf("config: %s temperature must be between 0 and 2", p.name)
		}
	}

	if c.Retry.MaxAttempts < 0 {
		return errors.New("config: retry max_attempts must not be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("config: retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return errors.New("config: retry base_delay exceeds max_delay")
	}

	if c.RateLimit.TPM < 0 || c.RateLimit.MaxTPM < 0 {
		return errors.New("config: rate_limit budgets must not be negative")
	}
	if c.RateLimit.MaxTPM > 0 && c.RateLimit.TPM > c.RateLimit.MaxTPM {
		return errors.New("config: rate_limit tpm exceeds max_tpm")
	}
	return nil
}
