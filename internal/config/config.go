// Package config implements layered configuration for the translation
// pipeline: defaults, an optional config file, and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ProviderConfig is one provider's entry, keyed by provider name in
// Config.Providers.
type ProviderConfig struct {
	Model              string `json:"model" mapstructure:"model"`
	APIKey             string `json:"api_key" mapstructure:"api_key"`
	Endpoint           string `json:"endpoint" mapstructure:"endpoint"`
	ConcurrentRequests int    `json:"concurrent_requests" mapstructure:"concurrent_requests"`
	MaxCharsPerRequest int    `json:"max_chars_per_request" mapstructure:"max_chars_per_request"`
	TimeoutSecs        int    `json:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit          int    `json:"rate_limit" mapstructure:"rate_limit"` // 0 means unbounded
}

// TranslationConfig holds settings common to every provider.
type TranslationConfig struct {
	SystemPrompt           string  `json:"system_prompt" mapstructure:"system_prompt"`
	RetryCount             int     `json:"retry_count" mapstructure:"retry_count"`
	RetryBackoffMs         int     `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	Temperature            float64 `json:"temperature" mapstructure:"temperature"`
	PreserveFormatting     bool    `json:"preserve_formatting" mapstructure:"preserve_formatting"`
	RetryIndividualEntries bool    `json:"retry_individual_entries" mapstructure:"retry_individual_entries"`
	// FailureThreshold is the fraction of entries (in [0,1]) that may end
	// Failed before Finalize demotes the session to Failed instead of
	// Paused.
	FailureThreshold float64 `json:"failure_threshold" mapstructure:"failure_threshold"`
}

// ExperimentalFlags all default false.
type ExperimentalFlags struct {
	GlossaryAutoExtraction bool `json:"glossary_auto_extraction" mapstructure:"glossary_auto_extraction"`
	QualityScoring         bool `json:"quality_scoring" mapstructure:"quality_scoring"`
}

// Config is the top-level application configuration.
type Config struct {
	SourceLanguage string `json:"source_language" mapstructure:"source_language"`
	TargetLanguage string `json:"target_language" mapstructure:"target_language"`
	Provider       string `json:"provider" mapstructure:"provider"`
	LogLevel       string `json:"log_level" mapstructure:"log_level"`

	Providers    map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
	Translation  TranslationConfig         `json:"translation" mapstructure:"translation"`
	Glossary     map[string]string         `json:"glossary" mapstructure:"glossary"`
	Experimental ExperimentalFlags         `json:"experimental" mapstructure:"experimental"`

	SessionDBPath string `json:"session_db_path" mapstructure:"session_db_path"`
	CacheDBPath   string `json:"cache_db_path" mapstructure:"cache_db_path"`
	// CacheWarmCount preloads the N most-hit cache rows for the active
	// language/provider/model tuple at startup. 0 disables warming.
	CacheWarmCount int `json:"cache_warm_count" mapstructure:"cache_warm_count"`
}

var configPath = "config.json"

const defaultSystemPrompt = "You are a professional subtitle translator. " +
	"Translate from {source_language} to {target_language}, preserving tone, " +
	"meaning, and subtitle formatting exactly."

// Default returns a Config with sensible per-provider defaults for
// concurrency, rate limiting, and batch sizing.
func Default() *Config {
	return &Config{
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Provider:       "ollama",
		LogLevel:       "info",
		Providers: map[string]ProviderConfig{
			"ollama": {
				Model: "llama3", Endpoint: "http://localhost:11434",
				ConcurrentRequests: 8, MaxCharsPerRequest: 2000, TimeoutSecs: 60, RateLimit: 0,
			},
			"openai": {
				Model: "gpt-4o-mini", Endpoint: "https://api.openai.com/v1",
				ConcurrentRequests: 10, MaxCharsPerRequest: 2000, TimeoutSecs: 60, RateLimit: 60,
			},
			"anthropic": {
				Model: "claude-3-5-sonnet-20241022", Endpoint: "https://api.anthropic.com/v1",
				ConcurrentRequests: 5, MaxCharsPerRequest: 3200, TimeoutSecs: 60, RateLimit: 45,
			},
			"lmstudio": {
				Model: "local-model", Endpoint: "http://localhost:1234",
				ConcurrentRequests: 6, MaxCharsPerRequest: 1600, TimeoutSecs: 60, RateLimit: 0,
			},
		},
		Translation: TranslationConfig{
			SystemPrompt:           defaultSystemPrompt,
			RetryCount:             3,
			RetryBackoffMs:         1000,
			Temperature:            0.3,
			PreserveFormatting:     true,
			RetryIndividualEntries: true,
			FailureThreshold:       0.2,
		},
		Glossary:     map[string]string{},
		Experimental: ExperimentalFlags{},

		SessionDBPath:  "subtrans_sessions.db",
		CacheDBPath:    "subtrans_cache.db",
		CacheWarmCount: 0,
	}
}

// Exists reports whether a config file is present at configPath
// (config.json unless SetPath changed it).
func Exists() bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// SetPath overrides the config file path used by Load and Save, for
// callers that accept an explicit --config flag.
func SetPath(path string) {
	configPath = path
}

// Load reads configuration from configPath (config.json by default, or
// wherever SetPath last pointed it) over Default(). If no config file is
// found, Default() is returned unchanged and no environment variable is
// consulted; otherwise SUBTRANS_* environment variables override only the
// keys that the config file sets.
func Load() (*Config, error) {
	dir := filepath.Dir(configPath)
	name := filepath.Base(configPath)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(dir)
	if dir != "$HOME/.config/subtrans" {
		v.AddConfigPath("$HOME/.config/subtrans")
	}

	v.SetEnvPrefix("SUBTRANS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as JSON to configPath.
func (c *Config) Save() error {
	dir := filepath.Dir(configPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("source_language", c.SourceLanguage)
	v.Set("target_language", c.TargetLanguage)
	v.Set("provider", c.Provider)
	v.Set("log_level", c.LogLevel)
	v.Set("providers", c.Providers)
	v.Set("translation", c.Translation)
	v.Set("glossary", c.Glossary)
	v.Set("experimental", c.Experimental)
	v.Set("session_db_path", c.SessionDBPath)
	v.Set("cache_db_path", c.CacheDBPath)
	v.Set("cache_warm_count", c.CacheWarmCount)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// Validate checks the constraints on enumerated options: languages are
// required, the provider must be known, and temperature stays in [0, 1].
func (c *Config) Validate() error {
	if c.SourceLanguage == "" {
		return fmt.Errorf("config: source_language is required")
	}
	if c.TargetLanguage == "" {
		return fmt.Errorf("config: target_language is required")
	}
	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if t := c.Translation.Temperature; t < 0 || t > 1 {
		return fmt.Errorf("config: temperature %v outside [0, 1]", t)
	}
	if c.Translation.RetryCount < 0 {
		return fmt.Errorf("config: retry_count must be non-negative")
	}
	return nil
}

// ActiveProvider returns the ProviderConfig for c.Provider, or an error
// if it isn't present in c.Providers.
func (c *Config) ActiveProvider() (ProviderConfig, error) {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("config: no entry for provider %q", c.Provider)
	}
	return p, nil
}

// RenderSystemPrompt substitutes the {source_language}/{target_language}
// placeholders in the configured system prompt.
func (c *Config) RenderSystemPrompt() string {
	r := strings.NewReplacer(
		"{source_language}", c.SourceLanguage,
		"{target_language}", c.TargetLanguage,
	)
	return r.Replace(c.Translation.SystemPrompt)
}
