package provider

import (
	"fmt"
	"time"
)

// Profile carries the per-provider defaults (concurrency cap, rate
// limit, recommended batch size). The pipeline reads only
// ConcurrentRequests, as the fallback when a provider's config leaves
// concurrent_requests unset; RateLimitRPM and RecommendedBatch are not
// applied anywhere.
type Profile struct {
	ConcurrentRequests int
	RateLimitRPM       int // 0 means no limit
	RecommendedBatch   int
}

// Profiles holds the hard-coded per-provider defaults.
var Profiles = map[string]Profile{
	"ollama":    {ConcurrentRequests: 8, RateLimitRPM: 0, RecommendedBatch: 5},
	"openai":    {ConcurrentRequests: 10, RateLimitRPM: 60, RecommendedBatch: 5},
	"anthropic": {ConcurrentRequests: 5, RateLimitRPM: 45, RecommendedBatch: 8},
	"lmstudio":  {ConcurrentRequests: 6, RateLimitRPM: 0, RecommendedBatch: 4},
}

// Options configures adapter construction; fields not applicable to a
// given provider (e.g. APIKey for ollama) are ignored.
type Options struct {
	Provider string
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// New builds the concrete adapter named by opts.Provider.
func New(opts Options) (Provider, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch opts.Provider {
	case "ollama":
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		return NewOllama(endpoint, timeout), nil
	case "lmstudio":
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:1234"
		}
		return NewLMStudio(endpoint, timeout), nil
	case "openai":
		return NewOpenAI(opts.APIKey, opts.Endpoint, timeout), nil
	case "anthropic":
		return NewAnthropic(opts.APIKey, opts.Endpoint, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}
}
